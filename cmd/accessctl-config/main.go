package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/carevault/accessctl"
	"github.com/carevault/accessctl/logger"
	"github.com/carevault/accessctl/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("accessctl-config - policy configuration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  accessctl-config convert <input> <output>   - Convert between YAML and JSON")
	fmt.Println("  accessctl-config validate <file>            - Validate configuration")
	fmt.Println("  accessctl-config stats <file>               - Show configuration statistics")
	fmt.Println("  accessctl-config apply <file> <sqlite-db>   - Apply configuration to a policy database")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func loadConfig(path string) (*accessctl.Config, error) {
	return accessctl.NewConfigLoader().LoadFile(path)
}

func saveConfig(cfg *accessctl.Config, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = cfg.ToJSON()
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	default:
		return fmt.Errorf("unsupported output format: %s", path)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: accessctl-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration valid: %d policies, %d memberships\n",
		len(cfg.Policies), len(cfg.Memberships))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	allow, deny, conditional, inactive := 0, 0, 0, 0
	for _, p := range cfg.Policies {
		switch p.Effect {
		case accessctl.EffectAllow:
			allow++
		case accessctl.EffectDeny:
			deny++
		}
		if p.Condition != "" {
			conditional++
		}
		if p.IsActive != nil && !*p.IsActive {
			inactive++
		}
	}
	fmt.Printf("Policies:     %d (%d allow, %d deny, %d conditional, %d inactive)\n",
		len(cfg.Policies), allow, deny, conditional, inactive)
	fmt.Printf("Memberships:  %d\n", len(cfg.Memberships))
}

func handleApply() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: accessctl-config apply <file> <sqlite-db>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	sqlDB, err := sql.Open("sqlite", os.Args[3])
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "accessctl")
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error migrating database: %v\n", err)
		os.Exit(1)
	}

	engine, err := accessctl.NewEngine(
		stores.NewSQLPolicyStore(db),
		stores.NewSQLRecordStore(db),
		stores.NewSQLGrantStore(db),
		stores.NewSQLRoleMembershipStore(db),
		accessctl.WithLogger(logger.NewSLogLogger(nil)),
	)
	if err != nil {
		fmt.Printf("Error constructing engine: %v\n", err)
		os.Exit(1)
	}
	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Applied %d policies and %d memberships to %s\n",
		len(cfg.Policies), len(cfg.Memberships), os.Args[3])
}
