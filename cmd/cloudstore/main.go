package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloudstore/internal/app"
	"cloudstore/internal/auth"
	"cloudstore/internal/config"
	"cloudstore/internal/database"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig locates and reads the config file.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// openUsers opens the users database for account management commands.
func openUsers() (*database.UserStore, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	users, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening users database: %w", err)
	}
	if err := users.CheckMigrations(); err != nil {
		users.Close()
		return nil, fmt.Errorf("database schema out of date (run 'cloudstore migrate'): %w", err)
	}
	return users, nil
}

var rootCmd = &cobra.Command{
	Use:   "cloudstore",
	Short: "Self-hosted multi-user file storage server",
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		a, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		if err := a.BootstrapAdmin(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.Run(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Listen Addr: %s\n", cfg.Server.Addr)
		fmt.Printf("Storage Dir: %s\n", cfg.Storage.StorageDir)
		fmt.Printf("Staging Dir: %s\n", cfg.Storage.StagingDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Path)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		users, err := database.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening users database: %w", err)
		}
		defer users.Close()

		if err := users.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Database is up to date.")
		return nil
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		isAdmin, _ := cmd.Flags().GetBool("admin")

		if err := auth.ValidateUsername(username); err != nil {
			return err
		}

		pass, err := promptPassword()
		if err != nil {
			return err
		}
		if err := auth.ValidatePassword(pass); err != nil {
			return err
		}

		users, err := openUsers()
		if err != nil {
			return err
		}
		defer users.Close()

		hash, err := auth.HashPassword(pass)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		user, err := users.CreateUser(username, hash, isAdmin)
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}

		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		fmt.Printf("Created %s account %q (id %d)\n", role, user.Username, user.ID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUsers()
		if err != nil {
			return err
		}
		defer users.Close()

		accounts, err := users.ListUsers()
		if err != nil {
			return err
		}

		if len(accounts) == 0 {
			fmt.Println("No accounts.")
			return nil
		}

		for _, u := range accounts {
			role := "user "
			if u.IsAdmin {
				role = "admin"
			}
			fmt.Printf("%-5d %s  %-24s %s\n", u.ID, role, u.Username, u.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

// promptPassword reads the password twice without echo.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().Bool("admin", false, "Grant admin privileges")
	userCmd.AddCommand(userListCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
}
