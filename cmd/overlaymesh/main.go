// Package main provides the CLI entry point for the overlay mesh client.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/overlaymesh/core/client"
	"github.com/overlaymesh/core/internal/config"
	"github.com/overlaymesh/core/internal/identity"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "overlaymesh",
		Short:   "Overlay mesh networking client",
		Long:    "overlaymesh connects to a set of peers, authenticates them, and routes relay traffic across the resulting mesh.",
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(peersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate or display the local identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity.Exists(dataDir) {
				kp, err := identity.Load(dataDir)
				if err != nil {
					return fmt.Errorf("load existing identity: %w", err)
				}
				fmt.Printf("identity already exists in %s\n", dataDir)
				fmt.Printf("identity: %s\n", kp.Identity.String())
				return nil
			}

			kp, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("create identity: %w", err)
			}
			fmt.Printf("identity created in %s\n", dataDir)
			fmt.Printf("identity: %s\n", kp.Identity.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "directory for persistent state")
	return cmd
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the overlay mesh client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			c, err := client.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}

			fmt.Printf("identity: %s\n", c.Identity().String())

			if err := c.Start(); err != nil {
				return fmt.Errorf("start client: %w", err)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			fmt.Println("shutting down")
			c.Shutdown()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to the client's YAML configuration")
	return cmd
}

func peersCmd() *cobra.Command {
	var configPath string
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Connect briefly and report directly authenticated links",
		Long:  "Starts the client, waits for its configured connections to settle, and prints each directly authenticated link before exiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			c, err := client.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			if err := c.Start(); err != nil {
				return fmt.Errorf("start client: %w", err)
			}
			defer c.Shutdown()

			time.Sleep(settle)

			links := c.DirectLinks()
			if len(links) == 0 {
				fmt.Println("no directly authenticated links")
				return nil
			}
			for _, l := range links {
				direction := "outbound"
				if l.Inbound {
					direction = "inbound"
				}
				fmt.Printf("%s  %s  %s  last active %s\n",
					l.Identity.ShortString(), direction, l.RemoteAddr,
					humanize.Time(time.Now().Add(-l.IdleFor)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to the client's YAML configuration")
	cmd.Flags().DurationVar(&settle, "settle", 3*time.Second, "time to wait for connections to authenticate before reporting")
	return cmd
}

func identityCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the local identity without starting the client",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}
			fmt.Println(kp.Identity.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "directory for persistent state")
	return cmd
}
