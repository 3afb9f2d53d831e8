package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/laserscan/internal/turntable"
)

var (
	tableURL     string
	tableWait    bool
	tableTimeout time.Duration
)

var turntableCmd = &cobra.Command{
	Use:   "turntable",
	Short: "Control the turntable directly",
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Return the table to its home position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := tableClient()
		if err != nil {
			return err
		}
		if err := c.Home(cmd.Context()); err != nil {
			return err
		}
		return maybeWait(cmd, c)
	},
}

var stepCmd = &cobra.Command{
	Use:   "step <degrees>",
	Short: "Rotate the table by a relative amount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deg, err := parseDegrees(args[0])
		if err != nil {
			return err
		}
		c, err := tableClient()
		if err != nil {
			return err
		}
		if err := c.Step(cmd.Context(), deg); err != nil {
			return err
		}
		return maybeWait(cmd, c)
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <degrees>",
	Short: "Rotate the table to an absolute angle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deg, err := parseDegrees(args[0])
		if err != nil {
			return err
		}
		c, err := tableClient()
		if err != nil {
			return err
		}
		if err := c.RequestRotation(cmd.Context(), deg); err != nil {
			return err
		}
		return maybeWait(cmd, c)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the table state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := tableClient()
		if err != nil {
			return err
		}
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		if st.Angle != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s at %g°\n", st.State, *st.Angle)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), st.State)
		}
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the table reports idle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := tableClient()
		if err != nil {
			return err
		}
		tableWait = true
		return maybeWait(cmd, c)
	},
}

func init() {
	pf := turntableCmd.PersistentFlags()
	pf.StringVar(&tableURL, "url", "", "turntable base URL (default from the session config)")
	pf.BoolVarP(&tableWait, "wait", "w", false, "wait for the table to become idle after the command")
	pf.DurationVar(&tableTimeout, "timeout", 0, "idle wait deadline (default from the session config)")
	turntableCmd.AddCommand(homeCmd, stepCmd, rotateCmd, statusCmd, waitCmd)
	rootCmd.AddCommand(turntableCmd)
}

func tableClient() (*turntable.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if tableTimeout <= 0 {
		tableTimeout = cfg.Sync.GetTimeout()
	}
	return newTurntable(cfg, tableURL, logs.With("turntable")), nil
}

func maybeWait(cmd *cobra.Command, c *turntable.Client) error {
	if !tableWait {
		return nil
	}
	if !c.WaitUntilIdle(cmd.Context(), turntable.DefaultPollInterval, tableTimeout) {
		return fmt.Errorf("turntable not idle after %s", tableTimeout)
	}
	fmt.Fprintln(cmd.OutOrStdout(), turntable.Idle)
	return nil
}

func parseDegrees(s string) (float64, error) {
	deg, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid angle %q: %w", s, err)
	}
	return deg, nil
}
