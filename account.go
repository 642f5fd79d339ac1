package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ssau-fiit/cloudocs-sync/credential"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/metadata"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

const requestTimeout = time.Second * 10

var sharePermission string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and store the credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := prompt(cmd, "Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		session, err := metadata.New(serverURL, "", "").Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		err = credential.Login(credential.Credential{
			Token:    session.Token,
			Username: session.Username,
			Server:   serverURL,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", session.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return credential.Logout()
	},
}

var newCmd = &cobra.Command{
	Use:   "new <title>",
	Short: "Create a document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedInClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		doc, err := client.CreateDocument(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", doc.ID, doc.Title)
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <document-id>",
	Short: "Create a share link for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sharePermission != protocol.PermissionViewer && sharePermission != protocol.PermissionEditor {
			return fmt.Errorf("permission must be %s or %s", protocol.PermissionViewer, protocol.PermissionEditor)
		}
		client, err := signedInClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		link, err := client.CreateShareLink(ctx, args[0], sharePermission)
		if err != nil {
			return fmt.Errorf("create share link: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), link.URL)
		return nil
	},
}

// addUserCmd writes straight to the relay's Redis; there is no signup endpoint.
var addUserCmd = &cobra.Command{
	Use:   "adduser <username>",
	Short: "Register a user with the relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := prompt(cmd, "Password: ")
		if err != nil {
			return err
		}
		rdb, err := database.Connect(redisOptions())
		if err != nil {
			return err
		}
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		user, err := database.NewStore(rdb).PutUser(ctx, args[0], password)
		if errors.Is(err, database.ErrExists) {
			return fmt.Errorf("user %s already exists", args[0])
		}
		if err != nil {
			return err
		}
		log.Info().Str("user", user.Username).Str("id", user.ID).Msg("user created")
		return nil
	},
}

func init() {
	shareCmd.Flags().StringVarP(&sharePermission, "permission", "p", protocol.PermissionViewer, "viewer or editor")
}

// signedInClient returns a metadata client for the stored credential.
func signedInClient() (*metadata.Client, error) {
	cred, err := credential.Current()
	if errors.Is(err, credential.ErrMissing) {
		return nil, errors.New("not signed in, run cloudocs login first")
	}
	if err != nil {
		return nil, err
	}
	return metadata.New(serverFor(cred), cred.Token, ""), nil
}

// serverFor prefers an explicit --server, then the server the credential was
// issued by.
func serverFor(cred credential.Credential) string {
	if !rootCmd.PersistentFlags().Changed("server") && cred.Server != "" {
		return cred.Server
	}
	return serverURL
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
