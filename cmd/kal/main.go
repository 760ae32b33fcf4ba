package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chzchzchz/kalsdr/hydrasdr"
	"github.com/chzchzchz/kalsdr/radio"
)

var rootCmd = &cobra.Command{
	Use:   "kal",
	Short: "GSM base station calibration for the HydraSDR RFOne.",
}

var (
	gain      float64
	verbosity int
	debug     bool
	showFFT   bool

	offsetFreq float64
	offsetChan int
	bandHint   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Float64VarP(&gain, "gain", "g", 10.0, "linearity gain index (0-21)")
	pf.CountVarP(&verbosity, "verbose", "v", "verbose output")
	pf.BoolVarP(&debug, "debug", "D", false, "enable debug messages")
	pf.BoolVarP(&showFFT, "fft", "A", false, "show ASCII FFT of signal")

	scanCmd := &cobra.Command{
		Use:   "scan <band>",
		Short: "Scan a band for base stations (GSM850, GSM-R, GSM900, EGSM, DCS)",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return scan(args[0]) },
	}
	rootCmd.AddCommand(scanCmd)

	offsetCmd := &cobra.Command{
		Use:   "offset",
		Short: "Calculate clock frequency offset against a base station",
		RunE:  func(cmd *cobra.Command, args []string) error { return offset() },
	}
	offsetCmd.Flags().Float64VarP(&offsetFreq, "frequency", "f", -1.0, "frequency of nearby GSM base station (Hz)")
	offsetCmd.Flags().IntVarP(&offsetChan, "channel", "c", -1, "channel of nearby GSM base station")
	offsetCmd.Flags().StringVarP(&bandHint, "band", "b", "", "band indicator for -c/-f")
	rootCmd.AddCommand(offsetCmd)

	calibCmd := &cobra.Command{
		Use:   "calib",
		Short: "Read or write the device calibration record",
	}
	calibCmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Read calibration data from flash",
		RunE:  func(cmd *cobra.Command, args []string) error { return calibRead() },
	})
	calibCmd.AddCommand(&cobra.Command{
		Use:   "write <ppb>",
		Short: "Write calibration data (int32 PPB) to flash and reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ppb, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad ppb value %q", args[0])
			}
			return calibWrite(int32(ppb))
		},
	})
	rootCmd.AddCommand(calibCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Run the DSP benchmark (no hardware) and exit",
		RunE:  func(cmd *cobra.Command, args []string) error { return radio.RunBenchmark() },
	})
}

func setupLogging() {
	log.SetReportTimestamp(false)
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case verbosity > 0:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// signalContext cancels on the first interrupt; a second interrupt ends
// the process immediately.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		fmt.Fprintf(os.Stderr, "\nSignal received, stopping...\n")
		cancel()
		<-ch
		fmt.Fprintf(os.Stderr, "\nForcing exit.\n")
		os.Exit(1)
	}()
	return ctx, cancel
}

func parseBand(s string) (radio.Band, error) {
	band, err := radio.ParseBand(s)
	if err != nil {
		return band, err
	}
	switch band {
	case radio.PCS1900:
		return band, fmt.Errorf("PCS-1900 band (~1.9 GHz) is not supported by HydraSDR RFOne")
	case radio.DCS1800:
		log.Warn("DCS-1800 is at the edge of HydraSDR RFOne capabilities; reception may degrade")
	}
	return band, nil
}

func scan(bandName string) error {
	setupLogging()
	band, err := parseBand(bandName)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	src := radio.NewSource(gain)
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	fmt.Fprintf(os.Stderr, "kal: Scanning for %s base stations.\n", band)
	_, err = radio.ScanBand(ctx, src, band, radio.ScanOptions{ShowFFT: showFFT, Verbosity: verbosity})
	return err
}

func offset() error {
	setupLogging()
	var band radio.Band
	if bandHint != "" {
		var err error
		if band, err = parseBand(bandHint); err != nil {
			return err
		}
	}

	freq := offsetFreq
	ch := offsetChan
	if freq < 0 {
		if ch < 0 {
			return fmt.Errorf("offset needs a channel (-c) or frequency (-f)")
		}
		var err error
		if freq, err = radio.ARFCNToFreq(ch, band); err != nil {
			return err
		}
	} else if ch < 0 {
		ch, band = radio.FreqToARFCN(freq, band)
	}

	ctx, cancel := signalContext()
	defer cancel()

	src := radio.NewSource(gain)
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	if err := src.Tune(freq); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "kal: Calculating clock frequency offset.\n")
	fmt.Fprintf(os.Stderr, "Using %s channel %d (%.1fMHz)\n", band, ch, freq/1e6)

	_, err := radio.OffsetRun(ctx, src, 0, 0, radio.ScanOptions{ShowFFT: showFFT, Verbosity: verbosity})
	return err
}

func calibRead() error {
	setupLogging()
	dev, err := hydrasdr.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("[-] Reading calibration from flash (0x%06x)...\n", hydrasdr.CalibOffset)
	rec, err := dev.ReadCalibration()
	if err == hydrasdr.ErrNoCalibration {
		fmt.Printf("No valid calibration found (Header mismatch).\n")
		fmt.Printf("Raw Header: 0x%08X (Expected 0x%08X)\n", rec.Header, uint32(hydrasdr.CalibHeader))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Stored Calibration Data:\n")
	fmt.Printf("  Correction: %d ppb\n", rec.CorrectionPPB)
	fmt.Printf("  Date:       %s\n",
		time.Unix(int64(rec.Timestamp), 0).Format("2006-01-02 15:04:05"))
	return nil
}

func calibWrite(ppb int32) error {
	setupLogging()
	dev, err := hydrasdr.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("[-] Erasing flash sector 2 (Calibration area)...\n")
	rec, err := dev.WriteCalibration(ppb)
	if err != nil {
		return err
	}
	fmt.Printf("[-] Wrote Calibration: %d ppb (Timestamp: %d)\n", rec.CorrectionPPB, rec.Timestamp)
	fmt.Printf("[+] Device reset command sent.\n")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
