package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/AndreiTuhkru/sessionwatch/password"
	"github.com/spf13/cobra"
)

func newHashPasswordCmd() *cobra.Command {
	var scheme string

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a password hash for serve.users",
		Long: `hash-password hashes its argument, or the first line of stdin when no
argument is given, and prints the encoded hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := password.ParseScheme(scheme)
			if err != nil {
				return &exitError{code: exitUsage, err: fmt.Errorf("--scheme %q: %w", scheme, err)}
			}

			var plaintext string
			if len(args) == 1 {
				plaintext = args[0]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if !sc.Scan() {
					if err := sc.Err(); err != nil {
						return err
					}
					return &exitError{code: exitUsage, err: errors.New("no password on stdin")}
				}
				plaintext = strings.TrimRight(sc.Text(), "\r")
			}

			encoded, err := password.Hash(s, plaintext)
			if err != nil {
				if errors.Is(err, password.ErrTooShort) {
					return &exitError{code: exitUsage, err: err}
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", string(password.SchemeBcrypt), "hash scheme: bcrypt or argon2id")
	return cmd
}
