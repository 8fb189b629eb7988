package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/xiy/echomem/internal/admin"
	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/embedding"
	"github.com/xiy/echomem/internal/engine"
	"github.com/xiy/echomem/internal/llm"
	"github.com/xiy/echomem/internal/store"
	"github.com/xiy/echomem/internal/vector"
	"github.com/xiy/echomem/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "chat":
		if err := runChat(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "digest":
		if err := runDigest(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "admin":
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println("echomem v0.1.0")
	default:
		usage()
		os.Exit(2)
	}
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	configPath := fs.String("config", "config/echomem.yaml", "Path to config file")
	userID := fs.String("user", "local", "User identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: cfg.AgentName})
	setLogLevel(logger, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := store.OpenWithFallback(ctx, cfg.DBPath, logger)
	defer st.Close()

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	var embedder embedding.Embedder
	if cfg.EmbedModel != "" {
		embedder = embedding.NewOllama(cfg.OllamaBaseURL, cfg.EmbedModel, timeout)
	}
	var generator llm.Generator
	if cfg.OllamaBaseURL != "" && cfg.GenerateModel != "" {
		generator = llm.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.GenerateModel, timeout)
	}

	eng := engine.New(cfg, st, vector.NewIndex(logger), embedder, generator, logger)
	go worker.Start(ctx, logger, time.Duration(cfg.WorkerIntervalSeconds)*time.Second, eng)

	fmt.Println(eng.Greeting(ctx, *userID))
	fmt.Println("(/sair para encerrar, /ajuda para os comandos)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() || ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/sair" {
			break
		}
		if handled := runCommand(ctx, eng, *userID, line); handled {
			continue
		}

		res, err := eng.ProcessTurn(ctx, *userID, line)
		if err != nil {
			logger.Error("turn failed", "error", err)
			continue
		}
		fmt.Println(res.Response)
	}

	eng.Flush(ctx, *userID)
	fmt.Println("Até logo!")
	return scanner.Err()
}

// runCommand handles slash commands; returns false for normal messages.
func runCommand(ctx context.Context, eng *engine.Engine, userID, line string) bool {
	switch {
	case line == "/ajuda":
		fmt.Print(`/compromissos  lista promessas ativas
/feito <id>    marca uma promessa como cumprida
/resumo        mostra o resumo do dia
/busca <texto> procura nas conversas passadas
/metricas      mostra os contadores do motor
/sair          encerra a conversa
`)
	case line == "/compromissos":
		active := eng.ActiveCommitments(ctx, userID)
		if len(active) == 0 {
			fmt.Println("Nenhum compromisso ativo.")
			return true
		}
		for _, c := range active {
			fmt.Printf("%s  %s\n", c.ID, c.Desc)
		}
	case strings.HasPrefix(line, "/feito "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/feito "))
		if _, ok := eng.MarkCommitmentDone(ctx, userID, id); ok {
			fmt.Println("Compromisso marcado como cumprido.")
		} else {
			fmt.Println("Compromisso não encontrado.")
		}
	case line == "/resumo":
		d := eng.BuildDigest(ctx, userID, time.Now())
		fmt.Println(d.Card)
	case strings.HasPrefix(line, "/busca "):
		query := strings.TrimSpace(strings.TrimPrefix(line, "/busca "))
		hits, err := eng.SearchEvents(ctx, userID, query, 5)
		if err != nil {
			fmt.Println("Busca indisponível:", err)
			return true
		}
		if len(hits) == 0 {
			fmt.Println("Nada encontrado.")
			return true
		}
		for _, h := range hits {
			fmt.Printf("%.2f  %s\n", h.Similarity, h.Text)
		}
	case line == "/metricas":
		snap := eng.Metrics()
		fmt.Printf("turnos=%d latência_média=%s tokens_médios=%d\n", snap.Turns, snap.AvgTurnLatency, snap.AvgPromptTokens)
		fmt.Printf("consistência=%d/%d compromissos=%d/%d eventos=%d\n",
			snap.ConsistencyFails, snap.ConsistencyChecks,
			snap.CommitmentsDone, snap.CommitmentsMade,
			snap.EventsCreated)
	default:
		return false
	}
	return true
}

func runDigest(args []string) error {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	configPath := fs.String("config", "config/echomem.yaml", "Path to config file")
	userID := fs.String("user", "local", "User identifier")
	date := fs.String("date", "", "Day to roll up (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	day := time.Now()
	if *date != "" {
		day, err = time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", *date, err)
		}
	}

	logger := log.New(os.Stderr)
	setLogLevel(logger, cfg.LogLevel)

	ctx := context.Background()
	st := store.OpenWithFallback(ctx, cfg.DBPath, logger)
	defer st.Close()

	eng := engine.New(cfg, st, nil, nil, nil, logger)
	d := eng.BuildDigest(ctx, *userID, day)
	fmt.Println(d.Card)
	return nil
}

func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	configPath := fs.String("config", "config/echomem.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := log.New(os.Stderr)
	st, err := store.OpenSQLite(context.Background(), cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return admin.Run(ctx, st)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "config/echomem.yaml", "Where to write the config file")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.ExpandPath(*configPath)
	if !*force {
		if _, err := os.Stat(path); err == nil {
			return errors.New("config already exists; use --force to overwrite")
		}
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

func setLogLevel(logger *log.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func usage() {
	fmt.Print(`echomem

Usage:
  echomem chat [--config path] [--user id]
  echomem digest [--config path] [--user id] [--date YYYY-MM-DD]
  echomem admin [--config path]
  echomem init [--config path] [--force]
  echomem version
`)
}
