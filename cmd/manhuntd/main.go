package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lanternworks/manhunt/internal/backup"
	"github.com/lanternworks/manhunt/internal/config"
	"github.com/lanternworks/manhunt/internal/history"
	"github.com/lanternworks/manhunt/internal/ml"
	"github.com/lanternworks/manhunt/internal/profile"
	"github.com/lanternworks/manhunt/internal/tracker"
	"github.com/lanternworks/manhunt/internal/version"
)

// getDataDir returns the data directory from environment variable, config,
// or default location.
func getDataDir(cfg *config.Config) string {
	if dir := os.Getenv("MANHUNT_DATA_DIR"); dir != "" {
		return dir
	}
	if cfg.Data.Dir != "" && cfg.Data.Dir != "data" {
		return cfg.Data.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Error getting home directory: %v", err)
	}
	return filepath.Join(home, ".manhunt", "data")
}

func getConfigPath() string {
	if path := os.Getenv("MANHUNT_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Error getting home directory: %v", err)
	}
	return filepath.Join(home, ".manhunt", "config.toml")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "profiles":
		runProfilesCommand()
	case "register":
		runRegisterCommand()
	case "record":
		runRecordCommand()
	case "predict":
		runPredictCommand()
	case "status":
		runStatusCommand()
	case "train":
		runTrainCommand()
	case "delete":
		runDeleteCommand()
	case "migrate":
		runMigrationCommand()
	case "backup":
		runBackupCommand()
	case "version", "--version":
		fmt.Printf("manhuntd %s\n", version.GetVersion())
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Manhunt Tracker")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Usage: manhuntd <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  profiles   - List player profiles")
	fmt.Println("  register   - Register a new player profile")
	fmt.Println("  record     - Record a completed game from a JSON report")
	fmt.Println("  predict    - Get a location prediction for a player")
	fmt.Println("  status     - Show a player's model status")
	fmt.Println("  train      - Train a player's personal model now")
	fmt.Println("  delete     - Delete a player profile, model, and history")
	fmt.Println("  migrate    - Run history database migrations")
	fmt.Println("  backup     - Create or restore data directory snapshots")
	fmt.Println("  version    - Print the application version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  manhuntd register --name Alex")
	fmt.Println("  manhuntd record --profile <id> --file game.json")
	fmt.Println("  manhuntd predict --profile <id> --features 1,12,0,4,...")
	fmt.Println("  manhuntd backup create --password-env MANHUNT_BACKUP_PWD")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MANHUNT_CONFIG     Config file path (default: ~/.manhunt/config.toml)")
	fmt.Println("  MANHUNT_DATA_DIR   Data directory (default: ~/.manhunt/data)")
	fmt.Println()
}

// app bundles the wired subsystem for one CLI invocation.
type app struct {
	cfg     *config.Config
	dataDir string
	dbPath  string
	logger  *zap.Logger
	db      *history.DB
	service *tracker.Service
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync failures are benign
}

// buildApp constructs the full service stack: profile store, history
// database, trainer, and predictor.
func buildApp() *app {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	var logger *zap.Logger
	if cfg.App.DebugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}

	dataDir := getDataDir(cfg)
	store, err := profile.NewStore(dataDir, logger)
	if err != nil {
		log.Fatalf("Error opening profile store: %v", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := history.Open(history.DefaultConfig(dbPath))
	if err != nil {
		log.Fatalf("Error opening history database: %v", err)
	}

	repo := history.NewGameRepository(db.Conn())
	trainer := ml.NewTrainer(repo, store, store.ModelsDir(), &ml.TrainerConfig{
		MinGames:   cfg.Training.MinGames,
		MinSamples: cfg.Training.MinSamples,
		Classifier: &ml.ClassifierConfig{
			LearningRate:       cfg.Training.LearningRate,
			L2Penalty:          cfg.Training.L2Penalty,
			MaxEpochs:          cfg.Training.MaxEpochs,
			Patience:           ml.DefaultClassifierConfig().Patience,
			ValidationFraction: ml.DefaultClassifierConfig().ValidationFraction,
		},
	}, logger)

	predictor := ml.NewPredictor(store.ModelsDir(), logger)
	if cfg.Training.WatchModels {
		if err := predictor.Watch(); err != nil {
			logger.Warn("model watching unavailable", zap.Error(err))
		}
	}

	service := tracker.NewService(store, repo, trainer, predictor, &cfg.Training, logger)

	return &app{
		cfg:     cfg,
		dataDir: dataDir,
		dbPath:  dbPath,
		logger:  logger,
		db:      db,
		service: service,
	}
}

func runProfilesCommand() {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	format := fs.String("format", "table", "Output format: 'table' or 'json'")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	a := buildApp()
	defer a.Close()

	summaries, err := a.service.ListProfiles(context.Background())
	if err != nil {
		log.Fatalf("Error listing profiles: %v", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No profiles found.")
		return
	}

	switch *format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summaries); err != nil {
			log.Fatalf("Error encoding JSON: %v", err)
		}
	case "table":
		fmt.Printf("\nFound %d profile(s):\n\n", len(summaries))
		for i, s := range summaries {
			fmt.Printf("%d. %s\n", i+1, s.Name)
			fmt.Printf("   ID:          %s\n", s.ProfileID)
			fmt.Printf("   Games:       %d\n", s.TotalGames)
			fmt.Printf("   Win rate:    %.1f%%\n", s.WinRate*100)
			fmt.Printf("   Last played: %s\n", s.LastPlayed.Format("2006-01-02 15:04:05"))
			fmt.Println()
		}
	default:
		log.Fatalf("Invalid format: %s (must be 'table' or 'json')", *format)
	}
}

func runRegisterCommand() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "Player name (required)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *name == "" {
		fmt.Println("Error: --name is required")
		fmt.Println("Usage: manhuntd register --name <player-name>")
		os.Exit(1)
	}

	a := buildApp()
	defer a.Close()

	p, err := a.service.RegisterPlayer(context.Background(), *name)
	if err != nil {
		log.Fatalf("Error registering player: %v", err)
	}

	fmt.Printf("Profile created: %s (%s)\n", p.Name, p.ProfileID)
}

// gameReport is the JSON document the record command consumes: the game
// summary plus the player's per-round history.
type gameReport struct {
	Summary profile.GameSummary `json:"summary"`
	Rounds  []history.Round     `json:"rounds"`
}

func runRecordCommand() {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	profileID := fs.String("profile", "", "Profile ID (required)")
	file := fs.String("file", "", "Path to game report JSON (required)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *profileID == "" || *file == "" {
		fmt.Println("Error: --profile and --file are required")
		fmt.Println("Usage: manhuntd record --profile <id> --file <game.json>")
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Error reading game report: %v", err)
	}

	var report gameReport
	if err := json.Unmarshal(data, &report); err != nil {
		log.Fatalf("Error parsing game report: %v", err)
	}

	a := buildApp()
	defer a.Close()

	if err := a.service.RecordCompletedGame(context.Background(), *profileID, &report.Summary, report.Rounds); err != nil {
		log.Fatalf("Error recording game: %v", err)
	}

	fmt.Println("Game recorded.")
}

func runPredictCommand() {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	profileID := fs.String("profile", "", "Profile ID (required)")
	features := fs.String("features", "", "Comma-separated feature values (required)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *profileID == "" || *features == "" {
		fmt.Println("Error: --profile and --features are required")
		fmt.Println("Usage: manhuntd predict --profile <id> --features <f1,f2,...>")
		os.Exit(1)
	}

	vector, err := parseFeatures(*features)
	if err != nil {
		log.Fatalf("Error parsing features: %v", err)
	}

	a := buildApp()
	defer a.Close()

	dist, err := a.service.GetPrediction(context.Background(), *profileID, vector)
	if err != nil {
		if errors.Is(err, tracker.ErrPredictionUnavailable) {
			fmt.Println("No personal model for this player yet. Use the shared fallback predictor.")
			return
		}
		log.Fatalf("Error getting prediction: %v", err)
	}

	type entry struct {
		location string
		prob     float64
	}
	entries := make([]entry, 0, len(dist))
	for location, prob := range dist {
		entries = append(entries, entry{location, prob})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].prob > entries[j].prob })

	fmt.Println("Predicted hiding locations:")
	for _, e := range entries {
		fmt.Printf("  %-24s %5.1f%%\n", e.location, e.prob*100)
	}
}

func parseFeatures(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	vector := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature value %q: %w", part, err)
		}
		vector = append(vector, v)
	}
	if len(vector) != ml.FeatureCount {
		return nil, fmt.Errorf("expected %d features, got %d", ml.FeatureCount, len(vector))
	}
	return vector, nil
}

func runStatusCommand() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	profileID := fs.String("profile", "", "Profile ID (required)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *profileID == "" {
		fmt.Println("Error: --profile is required")
		fmt.Println("Usage: manhuntd status --profile <id>")
		os.Exit(1)
	}

	a := buildApp()
	defer a.Close()

	status, err := a.service.GetModelStatus(context.Background(), *profileID)
	if err != nil {
		log.Fatalf("Error getting model status: %v", err)
	}

	if status.Trained {
		fmt.Printf("Model: trained (on %d games)\n", status.TrainedOnGames)
	} else {
		fmt.Println("Model: not trained yet")
	}
}

func runTrainCommand() {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	profileID := fs.String("profile", "", "Profile ID (required)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *profileID == "" {
		fmt.Println("Error: --profile is required")
		fmt.Println("Usage: manhuntd train --profile <id>")
		os.Exit(1)
	}

	a := buildApp()
	defer a.Close()

	if err := a.service.TrainPlayer(context.Background(), *profileID); err != nil {
		if errors.Is(err, ml.ErrInsufficientData) {
			fmt.Printf("Not enough data to train: %v\n", err)
			return
		}
		log.Fatalf("Error training model: %v", err)
	}

	fmt.Println("Model trained.")
}

func runDeleteCommand() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	profileID := fs.String("profile", "", "Profile ID (required)")
	noConfirm := fs.Bool("yes", false, "Skip confirmation prompt")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *profileID == "" {
		fmt.Println("Error: --profile is required")
		fmt.Println("Usage: manhuntd delete --profile <id> [--yes]")
		os.Exit(1)
	}

	if !*noConfirm {
		fmt.Printf("WARNING: This will delete profile %s, its model, and all game history.\n", *profileID)
		fmt.Print("Are you sure you want to continue? (yes/no): ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("Error reading input: %v", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" && response != "y" {
			fmt.Println("Delete cancelled.")
			return
		}
	}

	a := buildApp()
	defer a.Close()

	if err := a.service.DeleteProfile(context.Background(), *profileID); err != nil {
		log.Fatalf("Error deleting profile: %v", err)
	}

	fmt.Println("Profile deleted.")
}

func runMigrationCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: manhuntd migrate <up|status>")
		os.Exit(1)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	dbPath := filepath.Join(getDataDir(cfg), "history.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("Error creating data directory: %v", err)
	}

	mgr, err := history.NewMigrationManager(dbPath)
	if err != nil {
		log.Fatalf("Error creating migration manager: %v", err)
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("Error closing migration manager: %v", err)
		}
	}()

	switch os.Args[2] {
	case "up":
		fmt.Println("Applying all pending migrations...")
		if err := mgr.Up(); err != nil {
			log.Fatalf("Error applying migrations: %v", err)
		}
		version, dirty, err := mgr.Version()
		if err != nil {
			log.Fatalf("Error getting version: %v", err)
		}
		if dirty {
			fmt.Printf("Current version: %d (dirty)\n", version)
		} else {
			fmt.Printf("Current version: %d\n", version)
		}

	case "status", "version":
		version, dirty, err := mgr.Version()
		if err != nil {
			log.Fatalf("Error getting version: %v", err)
		}
		if dirty {
			fmt.Printf("Current version: %d (dirty - migration failed or interrupted)\n", version)
		} else {
			fmt.Printf("Current version: %d\n", version)
		}

	default:
		fmt.Printf("Unknown migration command: %s\n", os.Args[2])
		fmt.Println("Usage: manhuntd migrate <up|status>")
		os.Exit(1)
	}
}

func runBackupCommand() {
	if len(os.Args) < 3 {
		printBackupUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	dataDir := getDataDir(cfg)
	dbPath := filepath.Join(dataDir, "history.db")
	backupDir := cfg.Backup.Dir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(dataDir), "backups")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	mgr := backup.NewManager(dataDir, dbPath, backupDir, logger)

	switch os.Args[2] {
	case "create":
		createFlags := flag.NewFlagSet("create", flag.ExitOnError)
		passwordEnv := createFlags.String("password-env", "", "Environment variable containing encryption password")
		if err := createFlags.Parse(os.Args[3:]); err != nil {
			log.Fatalf("Error parsing flags: %v", err)
		}

		var password string
		if *passwordEnv != "" {
			password = os.Getenv(*passwordEnv)
			if password == "" {
				log.Fatalf("Error: environment variable %s is not set or empty", *passwordEnv)
			}
		}

		snapshotPath, err := mgr.Snapshot(password)
		if err != nil {
			log.Fatalf("Error creating snapshot: %v", err)
		}
		fmt.Printf("Snapshot created: %s\n", snapshotPath)

	case "restore":
		restoreFlags := flag.NewFlagSet("restore", flag.ExitOnError)
		passwordEnv := restoreFlags.String("password-env", "", "Environment variable containing decryption password")
		noConfirm := restoreFlags.Bool("yes", false, "Skip confirmation prompt")
		if err := restoreFlags.Parse(os.Args[3:]); err != nil {
			log.Fatalf("Error parsing flags: %v", err)
		}
		if restoreFlags.NArg() < 1 {
			fmt.Println("Error: restore command requires a snapshot file path")
			fmt.Println("Usage: manhuntd backup restore <snapshot-file> [flags]")
			os.Exit(1)
		}
		snapshotPath := restoreFlags.Arg(0)

		if !*noConfirm {
			fmt.Println("WARNING: This will replace the current data directory!")
			fmt.Printf("Data dir: %s\n", dataDir)
			fmt.Printf("Snapshot: %s\n", snapshotPath)
			fmt.Print("\nAre you sure you want to continue? (yes/no): ")

			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				log.Fatalf("Error reading input: %v", err)
			}
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				fmt.Println("Restore cancelled.")
				return
			}
		}

		var password string
		if *passwordEnv != "" {
			password = os.Getenv(*passwordEnv)
			if password == "" {
				log.Fatalf("Error: environment variable %s is not set or empty", *passwordEnv)
			}
		}

		if err := mgr.Restore(snapshotPath, password); err != nil {
			log.Fatalf("Error restoring snapshot: %v", err)
		}
		fmt.Println("Snapshot restored.")

	case "list", "ls":
		snapshots, err := mgr.List()
		if err != nil {
			log.Fatalf("Error listing snapshots: %v", err)
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots found.")
			return
		}

		fmt.Printf("\nFound %d snapshot(s) in %s:\n\n", len(snapshots), backupDir)
		for i, s := range snapshots {
			sizeMB := float64(s.Size) / (1024 * 1024)
			fmt.Printf("%d. %s\n", i+1, s.Name)
			fmt.Printf("   Size:      %.2f MB\n", sizeMB)
			fmt.Printf("   Modified:  %s\n", s.ModTime.Format("2006-01-02 15:04:05"))
			fmt.Printf("   Encrypted: %t\n", s.Encrypted)
			fmt.Printf("   Checksum:  %s\n", s.Checksum)
			fmt.Println()
		}

	default:
		fmt.Printf("Unknown backup command: %s\n\n", os.Args[2])
		printBackupUsage()
		os.Exit(1)
	}
}

func printBackupUsage() {
	fmt.Println("Manhunt Tracker - Snapshot Management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  manhuntd backup <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create     Create a new data directory snapshot")
	fmt.Println("  restore    Restore the data directory from a snapshot")
	fmt.Println("  list, ls   List all available snapshots")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Create encrypted snapshot")
	fmt.Println("  export MANHUNT_BACKUP_PWD=mypassword")
	fmt.Println("  manhuntd backup create --password-env MANHUNT_BACKUP_PWD")
	fmt.Println()
	fmt.Println("  # Restore from snapshot")
	fmt.Println("  manhuntd backup restore snapshot_20260831_120000.mhsnap --password-env MANHUNT_BACKUP_PWD")
	fmt.Println()
}
