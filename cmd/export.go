package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"referral-tree/export"
	"referral-tree/logger"
)

const (
	formatFlagName = "format"
	outFlagName    = "out"
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String(formatFlagName, string(export.CSV), "Artifact format: csv, json, pdf or svg")
	exportCmd.Flags().String(outFlagName, "", "Output file (default referral-tree-<date>.<ext>)")
}

var exportCmd = &cobra.Command{
	Use:   "export ADDRESS",
	Short: "Load an address and write its referral tree to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setupConfig(cmd)
		if err != nil {
			return err
		}
		name, err := cmd.Flags().GetString(formatFlagName)
		if err != nil {
			return err
		}
		format, err := export.ParseFormat(name)
		if err != nil {
			return err
		}
		out, err := cmd.Flags().GetString(outFlagName)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.svc.Load(cmd.Context(), args[0]); err != nil {
			return err
		}

		now := time.Now()
		if out == "" {
			out = export.Filename(format, now)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		if err := export.Write(w, format, export.FromState(a.store.State(), now)); err != nil {
			f.Close()
			return err
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		logger.Logger.Info("Referral tree exported", zap.String("file", out), zap.String("format", string(format)))
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}
