package decode

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/endorses/isdnq931/internal/pkg/isdn"
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var DecodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a Q.931 message from hex",
	Long: `Decode a Q.931 message given as hex. All arguments are joined into one
message. Without arguments messages are read from stdin, one per line.

  q931 decode 08 02 00 05 05 04 03 80 90 a3`,
	RunE: runDecode,
}

var format string

func runDecode(cmd *cobra.Command, args []string) error {
	if format != "yaml" && format != "text" {
		return errors.Errorf("unknown format %q", format)
	}
	cfg := isdn.GetConfig()
	pd := cfg.ParserData(0)

	inputs := []string{strings.Join(args, " ")}
	if len(args) == 0 {
		lines, err := readLines(cmd.InOrStdin())
		if err != nil {
			return err
		}
		inputs = lines
	}

	out := cmd.OutOrStdout()
	for i, in := range inputs {
		data, err := q931.ParseHex(in)
		if err != nil {
			return errors.Wrapf(err, "message %d", i+1)
		}
		text, err := render(&pd, data)
		if err != nil {
			return errors.Wrapf(err, "message %d", i+1)
		}
		if i > 0 && format == "yaml" {
			fmt.Fprintln(out, "---")
		}
		fmt.Fprint(out, text)
	}
	return nil
}

// render decodes one buffer in the selected format. SEGMENT messages are
// shown with the size of their continuation data.
func render(pd *q931.ParserData, data []byte) (string, error) {
	msg, rest, err := q931.Decode(pd, data, true)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if format == "text" {
		sb.WriteString(msg.Dump(data))
		sb.WriteString("\n")
	} else {
		b, err := yaml.Marshal(q931.NewDocument(msg))
		if err != nil {
			return "", errors.Wrap(err, "failed to render YAML")
		}
		sb.Write(b)
	}
	if len(rest) > 0 {
		fmt.Fprintf(&sb, "# segment continuation: %d octets\n", len(rest))
	}
	return sb.String(), nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return lines, nil
}

func init() {
	DecodeCmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or text")
}
