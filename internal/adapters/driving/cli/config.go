package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// Provider checks contact the configured AI providers. They are injected
// so the config commands work without building the pipeline.
var (
	checkEmbedding func(ctx context.Context, s *domain.EmbeddingSettings) error
	checkLLM       func(ctx context.Context, s *domain.LLMSettings) error
)

// SetProviderChecks sets the functions used to validate provider settings.
func SetProviderChecks(
	embedding func(ctx context.Context, s *domain.EmbeddingSettings) error,
	llm func(ctx context.Context, s *domain.LLMSettings) error,
) {
	checkEmbedding = embedding
	checkLLM = llm
}

var noBootstrap = map[string]string{skipBootstrap: "true"}

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Manage configuration",
	Long:        `View and change settings stored in ~/.mizan/config.toml.`,
	Annotations: noBootstrap,
	RunE:        runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show effective settings",
	Annotations: noBootstrap,
	Args:        cobra.NoArgs,
	RunE:        runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change one setting",
	Long: `Validates and stores one setting. Run 'mizan config show' for the keys.

Examples:
  mizan config set retrieval.limit 5
  mizan config set session.timeout 1h
  mizan config set storage.sessions redis`,
	Annotations: noBootstrap,
	Args:        cobra.ExactArgs(2),
	RunE:        runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:         "reset [key]",
	Short:       "Return one setting to its default",
	Example:     "  mizan config reset retrieval.threshold",
	Annotations: noBootstrap,
	Args:        cobra.ExactArgs(1),
	RunE:        runConfigReset,
}

var configCheckCmd = &cobra.Command{
	Use:         "check",
	Short:       "Validate settings and provider connectivity",
	Annotations: noBootstrap,
	Args:        cobra.NoArgs,
	RunE:        runConfigCheck,
}

var configEmbeddingCmd = &cobra.Command{
	Use:         "embedding",
	Short:       "Configure embedding provider",
	Long:        `Configure the embedding provider used to index and retrieve passages.`,
	Annotations: noBootstrap,
	Args:        cobra.NoArgs,
	RunE:        runConfigEmbedding,
}

var configLLMCmd = &cobra.Command{
	Use:         "llm",
	Short:       "Configure LLM provider",
	Long:        `Configure the LLM provider that drafts answers.`,
	Annotations: noBootstrap,
	Args:        cobra.NoArgs,
	RunE:        runConfigLLM,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configEmbeddingCmd)
	configCmd.AddCommand(configLLMCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	list, err := settingsService.List()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")

	section := ""
	for _, s := range list {
		prefix, name, _ := strings.Cut(s.Key, ".")
		if prefix != section {
			section = prefix
			cmd.Println()
			cmd.Printf("[%s]\n", section)
		}
		value := s.Value
		if value == "" {
			value = "(not set)"
		}
		if !s.Stored {
			value += " (default)"
		}
		cmd.Printf("  %-16s %s\n", name+":", value)
	}
	cmd.Println()
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Set(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set %s: %w", args[0], err)
	}
	cmd.Printf("%s updated.\n", args[0])
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Reset(args[0]); err != nil {
		return fmt.Errorf("failed to reset %s: %w", args[0], err)
	}
	cmd.Printf("%s reset to default.\n", args[0])
	return nil
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	cfg, err := settingsService.Config()
	if err != nil {
		cmd.Printf("Configuration: INVALID\n  %v\n", err)
		return err
	}
	cmd.Println("Configuration: OK")

	var failed error
	if checkEmbedding != nil {
		cmd.Printf("Embedding (%s): ", cfg.Embedding.Provider.Description())
		if err := checkEmbedding(cmd.Context(), &cfg.Embedding); err != nil {
			cmd.Printf("FAILED: %v\n", err)
			failed = errors.Join(failed, err)
		} else {
			cmd.Println("OK")
		}
	}
	if checkLLM != nil {
		cmd.Printf("LLM (%s): ", cfg.LLM.Provider.Description())
		if err := checkLLM(cmd.Context(), &cfg.LLM); err != nil {
			cmd.Printf("FAILED: %v\n", err)
			failed = errors.Join(failed, err)
		} else {
			cmd.Println("OK")
		}
	}
	if failed != nil {
		return fmt.Errorf("provider check failed: %w", failed)
	}
	return nil
}

func runConfigEmbedding(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	return configureEmbeddingProvider(cmd, reader)
}

func runConfigLLM(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	return configureLLMProvider(cmd, reader)
}

//nolint:dupl // Similar to configureLLMProvider but for embeddings - intentional for CLI flow clarity
func configureEmbeddingProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select Embedding Provider")
	providers := domain.AllEmbeddingProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	selected := providers[idx-1]

	defaultModel := domain.DefaultEmbeddingModels()[selected]
	model := defaultModel
	if defaultModel != "" {
		cmd.Printf("Enter model name [%s]: ", defaultModel)
		if m := readLine(reader); m != "" {
			model = m
		}
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := settingsService.SetEmbeddingProvider(selected, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure embedding provider: %w", err)
	}

	if checkEmbedding != nil {
		cfg, err := settingsService.Config()
		if err != nil {
			return err
		}
		cmd.Print("Validating configuration... ")
		if err := checkEmbedding(cmd.Context(), &cfg.Embedding); err != nil {
			cmd.Printf("FAILED: %v\n", err)
			return fmt.Errorf("embedding configuration validation failed: %w", err)
		}
		cmd.Println("OK")
	}

	cmd.Printf("Embedding provider configured: %s (%s)\n", selected.Description(), model)
	cmd.Println("Documents indexed with another embedder must be ingested again.")
	return nil
}

//nolint:dupl // Similar to configureEmbeddingProvider but for LLM - intentional for CLI flow clarity
func configureLLMProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select LLM Provider")
	providers := domain.AllLLMProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	selected := providers[idx-1]

	defaultModel := domain.DefaultLLMModels()[selected]
	model := defaultModel
	if defaultModel != "" {
		cmd.Printf("Enter model name [%s]: ", defaultModel)
		if m := readLine(reader); m != "" {
			model = m
		}
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := settingsService.SetLLMProvider(selected, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure LLM provider: %w", err)
	}

	if checkLLM != nil {
		cfg, err := settingsService.Config()
		if err != nil {
			return err
		}
		cmd.Print("Validating configuration... ")
		if err := checkLLM(cmd.Context(), &cfg.LLM); err != nil {
			cmd.Printf("FAILED: %v\n", err)
			return fmt.Errorf("LLM configuration validation failed: %w", err)
		}
		cmd.Println("OK")
	}

	cmd.Printf("LLM provider configured: %s (%s)\n", selected.Description(), model)
	return nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo when in is a terminal, otherwise it
// reads a plain line from reader.
func readPassword(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	return readLine(reader)
}
