package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailmate/internal/credential"
	"github.com/nhle/mailmate/internal/model"
)

var credentialKeys = []string{
	model.CredentialMailPassword,
	model.CredentialOpenAIKey,
}

var credentialValue string

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage secrets stored in the system keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a secret (mail-password or openai-api-key)",
	Long: `Store a secret in the system keyring. The value is taken from
--value, or read from the first line of stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCredentialSet,
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkCredentialKey(args[0]); err != nil {
			return err
		}
		creds, err := credential.Open()
		if err != nil {
			return err
		}
		if err := creds.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	credentialSetCmd.Flags().StringVar(&credentialValue, "value", "", "secret value (default: read stdin)")
	credentialCmd.AddCommand(credentialSetCmd, credentialDeleteCmd)
}

func checkCredentialKey(key string) error {
	if !slices.Contains(credentialKeys, key) {
		return fmt.Errorf("unknown credential %q; expected one of %s",
			key, strings.Join(credentialKeys, ", "))
	}
	return nil
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := checkCredentialKey(key); err != nil {
		return err
	}

	value := credentialValue
	if value == "" {
		var err error
		value, err = readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}
	if err := creds.Set(key, value); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
	return nil
}

// readSecret reads the first non-empty line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret")
	}
	return line, nil
}
