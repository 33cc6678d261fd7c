package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mongostore "github.com/waclerk/waclerk/internal/store/mongo"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration, and connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("waclerk doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env in use)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  MongoDB:")
	fmt.Printf("    %-10s %s/%s\n", "Target:", cfg.Mongo.URL, cfg.Mongo.Database)
	client, err := mongostore.Connect(context.Background(), cfg.Mongo.URL, cfg.Mongo.Database, cfg.MongoTimeout())
	if err != nil {
		fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", err)
	} else {
		fmt.Printf("    %-10s OK\n", "Status:")
		_ = client.Close(context.Background())
	}

	fmt.Println()
	fmt.Println("  Services:")
	checkHTTP("Backend", cfg.Gateway.BackendURL+"/health")
	checkHTTP("Bridge", cfg.Bridge.WhatsAppServerURL+"/health")

	fmt.Println()
	fmt.Println("  LLM:")
	fmt.Printf("    %-10s %s (high: %s, low: %s)\n", "Provider:", cfg.LLM.Provider, cfg.LLM.ModelHigh, cfg.LLM.ModelLow)
	switch {
	case cfg.LLM.APIKeySource == "explicit":
		fmt.Printf("    %-10s explicit (keys live in bot configurations)\n", "API key:")
	case cfg.LLM.APIKey != "":
		fmt.Printf("    %-10s %s\n", "API key:", maskKey(cfg.LLM.APIKey))
	default:
		envName := llmKeyEnv(cfg.LLM.Provider)
		if v := os.Getenv(envName); v != "" {
			fmt.Printf("    %-10s %s (%s)\n", "API key:", maskKey(v), envName)
		} else {
			fmt.Printf("    %-10s NOT SET (export %s)\n", "API key:", envName)
		}
	}

	if cfg.Prompts.Dir != "" {
		fmt.Println()
		fmt.Printf("  Prompts:  %s", cfg.Prompts.Dir)
		if _, err := os.Stat(cfg.Prompts.Dir); err != nil {
			fmt.Println(" (NOT FOUND, embedded defaults in use)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkHTTP(name, url string) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("    %-10s %s (UNREACHABLE)\n", name+":", url)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-10s %s (HTTP %d)\n", name+":", url, resp.StatusCode)
}

// llmKeyEnv mirrors the factory's env lookup for the default key source.
func llmKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "set"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
