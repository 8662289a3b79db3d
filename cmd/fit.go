package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"transfer_cavity_lock/internal/fit"
)

func NewFitCommand() *cobra.Command {
	var (
		width      float64
		iterations int
		window     bool
	)
	cmd := &cobra.Command{
		Use:   "fit [trace.csv]",
		Short: "Fit a fixed-width Lorentzian to a recorded trace",
		Long: `Fit a fixed-width Lorentzian to a recorded trace.

The file holds two comma separated columns, voltage and signal. A header line
is skipped when its first field is not a number. With --window the outer
quarters of the trace are ignored, as the loop does for the reference peak.
Reads standard input when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			x, y, err := readTrace(in)
			if err != nil {
				return err
			}
			if window {
				y = fit.Window(y)
			}
			guess, err := fit.InitialGuess(x, y, width)
			if err != nil {
				return err
			}
			res, err := fit.NewFitter(iterations).Fit(x, y, guess)
			if err != nil {
				return fmt.Errorf("fit failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "coefficients %s\n", res.Coefficients)
			fmt.Fprintf(out, "mse          %g\n", res.MSE)
			fmt.Fprintf(out, "iterations   %d (converged: %t)\n", res.Iterations, res.Converged)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&width, "width", "w", 0.01, "fixed Lorentzian half width in volts")
	cmd.Flags().IntVar(&iterations, "iterations", 1000, "maximum solver iterations")
	cmd.Flags().BoolVar(&window, "window", false, "fit the central half of the trace only")
	return cmd
}

// readTrace parses voltage,signal rows.
func readTrace(r io.Reader) ([]float64, []float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var x, y []float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(rec) < 2 {
			return nil, nil, fmt.Errorf("line %d: expected 2 columns, got %d", line, len(rec))
		}
		xv, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		yv, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		x = append(x, xv)
		y = append(y, yv)
	}
	if len(x) == 0 {
		return nil, nil, errors.New("empty trace")
	}
	return x, y, nil
}
