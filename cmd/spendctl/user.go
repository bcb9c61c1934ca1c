package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"spendwatch/internal/services"
	"spendwatch/internal/store"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd(a), newUserTelegramCmd(a))
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var in services.SignupInput

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				pw, err := readPassword(cmd.InOrStdin())
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				in.Password = pw
			}

			return a.withStore(cmd, func(ctx context.Context, st store.Store, _ *time.Location) error {
				auth := services.NewAuthService(services.AuthServiceConfig{
					Users:    st,
					Sessions: st,
					Now:      a.now,
				})
				u, err := auth.Signup(ctx, in)
				if errors.Is(err, services.ErrEmailTaken) {
					return fmt.Errorf("user %s already exists", in.Email)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s created with ID %s\n", u.Email, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "First name (required)")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "Last name (required)")
	cmd.Flags().StringVar(&in.MiddleName, "middle-name", "", "Middle name")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserTelegramCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "telegram <chat-id>",
		Short: "Link a Telegram chat for budget alerts (0 unlinks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", args[0])
			}
			return a.withStore(cmd, func(ctx context.Context, st store.Store, _ *time.Location) error {
				u, err := userByEmail(ctx, st, email)
				if err != nil {
					return err
				}
				if err := st.SetTelegramChatID(ctx, u.ID, chatID); err != nil {
					return fmt.Errorf("link telegram chat: %w", err)
				}
				if chatID == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Telegram alerts disabled for %s\n", u.Email)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Telegram chat %d linked to %s\n", chatID, u.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user (required)")
	return cmd
}

// readPassword reads without echo on a terminal and a single line otherwise.
func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
