package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/courseforge/internal/config"
)

// cmdInit initializes Courseforge for first-time use
func cmdInit() error {
	fmt.Println("Courseforge - First-Time Setup")
	fmt.Println("==============================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating ~/.courseforge directory structure... ")
	dir, err := config.EnsureCourseforgeDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	_, statErr := os.Stat(configPath)
	exists := statErr == nil

	if _, err := cfg.LearnerID(); err == nil {
		fmt.Printf("Learner %s already configured ✓\n", cfg.Learner.ID)
	} else {
		fmt.Print("Your name (or press Enter to skip): ")
		name, _ := reader.ReadString('\n')
		cfg.Learner.ID = uuid.NewString()
		cfg.Learner.Name = strings.TrimSpace(name)
		exists = false
		fmt.Printf("Created learner %s ✓\n", cfg.Learner.ID)
	}

	if !exists {
		fmt.Print("Writing configuration... ")
		if err := config.SaveLocalConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("Content Generator")
	fmt.Println("-----------------")
	if cfg.Generator.URL == "" {
		fmt.Println("No generator URL set; placeholder content will be used.")
		fmt.Printf("Set generator.url in %s to use an Ollama-compatible server.\n", configPath)
	} else if cfg.Generator.APIKey != "" {
		fmt.Println("Generator API key: already configured ✓")
	} else {
		fmt.Print("Enter generator API key (or press Enter to skip): ")
		key, _ := reader.ReadString('\n')
		if key = strings.TrimSpace(key); key != "" {
			if err := config.SaveGeneratorKey(key); err != nil {
				fmt.Printf("  ⚠ Failed to save: %v\n", err)
			} else {
				fmt.Println("  ✓ Saved")
			}
		}
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. courseforge start    # Start the daemon")
	fmt.Println("  2. courseforge status   # See your level and courses")
	fmt.Println()
	fmt.Println("For editor integration, configure MCP with the 'courseforge mcp' command.")

	return nil
}

// cmdConfig shows the configuration or stores the generator key
func cmdConfig(args []string) error {
	if len(args) == 0 || args[0] == "show" {
		return cmdConfigShow()
	}

	switch args[0] {
	case "set-key":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return fmt.Errorf("usage: courseforge config set-key <api-key>")
		}
		if err := config.SaveGeneratorKey(strings.TrimSpace(args[1])); err != nil {
			return err
		}
		fmt.Println("✓ Generator API key saved")
		return nil
	case "path":
		dir, err := config.CourseforgeDir()
		if err != nil {
			return err
		}
		fmt.Println(filepath.Join(dir, "config.yaml"))
		return nil
	default:
		return fmt.Errorf("unknown config command: %s (valid: show, set-key, path)", args[0])
	}
}

func cmdConfigShow() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Print(string(data))

	key := "not set"
	if cfg.Generator.APIKey != "" {
		key = "set (secrets.yaml)"
	}
	fmt.Printf("\n# generator api key: %s\n", key)
	return nil
}
