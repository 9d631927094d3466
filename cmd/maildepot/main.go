package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maildepot/maildepot/pkg/config"
	"github.com/maildepot/maildepot/pkg/handler"
	"github.com/maildepot/maildepot/pkg/ingest"
	"github.com/maildepot/maildepot/pkg/server"
	"github.com/maildepot/maildepot/pkg/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "maildepot",
		Short: "Store mail and serve it back through a selective-expansion query API",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import messages from external sources",
	}
	importCmd.AddCommand(newImportMboxCommand(), newImportIMAPCommand())

	rootCmd.AddCommand(newServeCommand(), importCmd, newCallCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, builds the logger and opens the store. Every
// command starts here.
func setup() (*config.Config, *logrus.Logger, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	log.SetOutput(os.Stdout)
	log.SetLevel(cfg.Level())

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	return cfg, log, store, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the inbound SMTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			// An empty smtp_addr disables the inbound listener.
			if cfg.SMTPAddr != "" {
				smtpServer := ingest.NewSMTPServer(store, ingest.SMTPOptions{
					Addr:            cfg.SMTPAddr,
					Hostname:        cfg.Hostname,
					MaxMessageBytes: int(cfg.MaxMessageBytes),
					MaxRecipients:   cfg.MaxRecipients,
				}, log)
				go func() {
					if err := smtpServer.ListenAndServe(); err != nil {
						log.WithError(err).Fatal("SMTP listener failed")
					}
				}()
			}

			h := handler.New(store, cfg.Location(), cfg.Hostname)
			return server.New(h, log, cfg.ListenAddr).ListenAndServe()
		},
	}
}

func newImportMboxCommand() *cobra.Command {
	var path, tag string

	cmd := &cobra.Command{
		Use:   "mbox",
		Short: "Import every message of an mbox archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open archive: %w", err)
			}
			defer file.Close()

			stats, err := ingest.ImportMbox(cmd.Context(), store, file, ingest.Options{Tag: tag}, log)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"stored":  stats.Stored,
				"skipped": stats.Skipped,
			}).Info("Archive import finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the mbox archive")
	cmd.Flags().StringVar(&tag, "tag", "", "tag stored on every imported message")
	cmd.MarkFlagRequired("path")
	return cmd
}

func newImportIMAPCommand() *cobra.Command {
	var (
		host, username, password, folder, since, tag string
		port                                         int
	)

	cmd := &cobra.Command{
		Use:   "imap",
		Short: "Copy messages from a remote IMAP folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			opts := ingest.IMAPOptions{
				Host:     host,
				Port:     port,
				Username: username,
				Password: password,
				Folder:   folder,
				Tag:      tag,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date, use YYYY-MM-DD: %w", err)
				}
				opts.Since = t
			}

			stats, err := ingest.ImportIMAP(cmd.Context(), store, opts, log)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"stored":  stats.Stored,
				"skipped": stats.Skipped,
			}).Info("IMAP import finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "IMAP server hostname")
	cmd.Flags().IntVar(&port, "port", 993, "IMAP server port")
	cmd.Flags().StringVar(&username, "username", "", "IMAP account name")
	cmd.Flags().StringVar(&password, "password", "", "IMAP account password")
	cmd.Flags().StringVar(&folder, "folder", "INBOX", "folder to copy")
	cmd.Flags().StringVar(&since, "since", "", "only copy messages on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tag, "tag", "", "tag stored on every imported message")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newCallCommand() *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Invoke one API action in process and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			cfg, _, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			params := map[string]interface{}{}
			if err := json.Unmarshal([]byte(argsJSON), &params); err != nil {
				return fmt.Errorf("failed to parse --args: %w", err)
			}

			h := handler.New(store, cfg.Location(), cfg.Hostname)
			result, err := h.Call(cmd.Context(), cliArgs[0], params)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render result: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "action parameters as a JSON object")
	return cmd
}
