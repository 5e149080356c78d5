package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"avaneesh/malspp-go/pkg/codec"
	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/spp"
)

var decodeFile string

var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode space packets from hex",
	Long: `Decode one or more concatenated space packets given as hex, either as
arguments or read from --file ("-" for stdin). The CRC, integer encoding
and time codec follow the transport section of the config. Bodies of
unsegmented packets are shown in CBOR diagnostic notation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, "")
		if decodeFile != "" {
			data, err := readInput(decodeFile)
			if err != nil {
				return err
			}
			text += string(data)
		}
		data, err := hex.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("no packet data")
		}

		tc, err := cfg.TransportConfig()
		if err != nil {
			return err
		}
		hc, err := tc.HeaderConfig()
		if err != nil {
			return err
		}
		return decodePackets(cmd.OutOrStdout(), data, tc.PacketErrorControl, hc)
	},
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func decodePackets(w io.Writer, data []byte, crc bool, hc header.Config) error {
	for i := 0; len(data) > 0; i++ {
		pkt, n, err := spp.Parse(data, crc)
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		data = data[n:]

		fmt.Fprintf(w, "#%d %s\n", i, pkt)
		if !pkt.SecondaryHeader {
			fmt.Fprintf(w, "  data: %x\n", pkt.Data)
			continue
		}
		h, hn, err := header.Decode(pkt.Data, pkt.SequenceFlags, hc)
		if err != nil {
			fmt.Fprintf(w, "  header: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "  %s\n", h)
		if !h.Timestamp.IsZero() {
			fmt.Fprintf(w, "  timestamp: %s\n", h.Timestamp)
		}
		if domain := h.DomainString(); domain != "" {
			fmt.Fprintf(w, "  domain: %s\n", domain)
		}

		body := pkt.Data[hn:]
		if h.Segmented {
			fmt.Fprintf(w, "  segment: %d bytes\n", len(body))
			continue
		}
		diag, err := codec.Diagnose(body)
		if err != nil {
			fmt.Fprintf(w, "  body: %x\n", body)
			continue
		}
		fmt.Fprintf(w, "  body: %s\n", diag)
	}
	return nil
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "read hex from a file, - for stdin")
	rootCmd.AddCommand(decodeCmd)
}
