package encode

import (
	"fmt"
	"io"
	"os"

	"github.com/endorses/isdnq931/internal/pkg/isdn"
	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var EncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode Q.931 messages described in YAML",
	Long: `Encode Q.931 messages described in YAML and print them as hex. A
message that needs segmentation prints one line per SEGMENT.

  type: SETUP
  callref: 5
  initiator: true
  ies:
    - type: BearerCaps
      params:
        transfer-cap: speech
        transfer-mode: circuit
        transfer-rate: 64kbit`,
	RunE: runEncode,
}

var (
	inputFile string
	maxLen    int
	segment   bool
)

func runEncode(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if inputFile != "" && inputFile != "-" {
		f, err := os.Open(inputFile)
		if err != nil {
			return errors.Wrap(err, "failed to open input")
		}
		defer f.Close()
		in = f
	}

	cfg := isdn.GetConfig()
	if segment {
		cfg.AllowSegmentation = true
	}
	pd := cfg.ParserData(maxLen)

	out := cmd.OutOrStdout()
	dec := yaml.NewDecoder(in)
	for n := 1; ; n++ {
		var doc q931.Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "document %d", n)
		}
		msg, err := doc.Message()
		if err != nil {
			return errors.Wrapf(err, "document %d", n)
		}
		bufs, err := q931.Encode(&pd, msg)
		if err != nil {
			return errors.Wrapf(err, "document %d", n)
		}
		logger.Debug("Encoded message", "message", msg.Summary(), "segments", len(bufs))
		for _, b := range bufs {
			fmt.Fprintf(out, "% x\n", b)
		}
	}
}

func init() {
	EncodeCmd.Flags().StringVarP(&inputFile, "file", "f", "", "YAML input file (default stdin)")
	EncodeCmd.Flags().IntVar(&maxLen, "max-len", 0, "largest message in octets before segmenting (default 260)")
	EncodeCmd.Flags().BoolVar(&segment, "segment", false, "allow SEGMENT output for long messages")
}
