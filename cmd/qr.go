package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

func qrCmd() *cobra.Command {
	var botID string
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Render a bot's pairing QR code in the terminal",
		Long: "Fetches the bot's status from the backend and, while pairing is pending,\n" +
			"renders the QR code for scanning. Useful on headless hosts without the UI.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQR(botID)
		},
	}
	cmd.Flags().StringVar(&botID, "bot", "", "bot id to pair")
	_ = cmd.MarkFlagRequired("bot")
	return cmd
}

func runQR(botID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	statusURL := fmt.Sprintf("%s/api/internal/bots/%s/status", cfg.Gateway.BackendURL, botID)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(statusURL)
	if err != nil {
		return fmt.Errorf("query backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("no bot configuration for %q", botID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend answered %d: %s", resp.StatusCode, body)
	}

	var status struct {
		Status string `json:"status"`
		QR     string `json:"qr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	switch {
	case status.QR != "":
		fmt.Printf("Scan with WhatsApp to pair bot %s:\n\n", botID)
		qrterminal.GenerateHalfBlock(status.QR, qrterminal.L, os.Stdout)
		fmt.Println()
	case status.Status == "connected":
		fmt.Printf("Bot %s is already connected.\n", botID)
	case status.Status == "disconnected":
		fmt.Printf("Bot %s is not linked. Link it first, then rerun this command.\n", botID)
	default:
		fmt.Printf("Bot %s is %s; no QR available yet. Retry in a few seconds.\n", botID, status.Status)
	}
	return nil
}
