package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/waclerk/waclerk/internal/config"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("%s already exists; edit it directly or remove it first.\n", cfgPath)
		return nil
	}

	cfg := config.Default()
	backendPort := strconv.Itoa(cfg.Backend.Port)
	gatewayPort := strconv.Itoa(cfg.Gateway.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("MongoDB URL").
				Value(&cfg.Mongo.URL),
			huh.NewInput().
				Title("Database name").
				Value(&cfg.Mongo.Database),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Backend port").
				Value(&backendPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Gateway port").
				Value(&gatewayPort).
				Validate(validatePort),
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Value(&cfg.Bridge.WhatsAppServerURL),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
				).
				Value(&cfg.LLM.Provider),
			huh.NewInput().
				Title("High-tier model").
				Value(&cfg.LLM.ModelHigh),
			huh.NewInput().
				Title("Low-tier model").
				Value(&cfg.LLM.ModelLow),
			huh.NewSelect[string]().
				Title("API key source").
				Description("environment reads the key from env vars at runtime; explicit stores keys in bot configurations").
				Options(
					huh.NewOption("environment", "environment"),
					huh.NewOption("explicit", "explicit"),
				).
				Value(&cfg.LLM.APIKeySource),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Backend.Port, _ = strconv.Atoi(backendPort)
	cfg.Gateway.Port, _ = strconv.Atoi(gatewayPort)
	cfg.Gateway.BackendURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Backend.Port)

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Println("Next: waclerk migrate up, then waclerk serve and waclerk gateway.")
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("enter a port between 1 and 65535")
	}
	return nil
}
