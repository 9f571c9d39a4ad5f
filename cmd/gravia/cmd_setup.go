package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/gravia/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Gravia Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Server URL
		cfg.Server.BaseURL = prompt(scanner, "Server URL", cfg.Server.BaseURL)

		// 2. Auth token
		cfg.Server.AuthToken = prompt(scanner, "Auth token (optional)", cfg.Server.AuthToken)

		// 3. Default agent
		cfg.Chat.Agent = prompt(scanner, "Default agent", cfg.Chat.Agent)

		// 4. Inactivity timeout
		timeoutStr := prompt(scanner, "Response inactivity timeout (ms)", strconv.Itoa(cfg.Chat.InactivityTimeoutMs))
		if n, err := strconv.Atoi(timeoutStr); err == nil && n > 0 {
			cfg.Chat.InactivityTimeoutMs = n
		}

		// 5. Frame tracing
		trace := prompt(scanner, "Trace frames to disk (y/n)", yesNo(cfg.Chat.TraceFrames))
		cfg.Chat.TraceFrames = strings.HasPrefix(strings.ToLower(trace), "y")

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
