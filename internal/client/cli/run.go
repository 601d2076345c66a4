package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// ParseCommand returns the parse command.
func ParseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse QuCPL source and print the AST document",
		ArgsUsage: "FILE (- for stdin)",
		Action:    runParse,
	}
}

// CompileCommand returns the compile command.
func CompileCommand() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Compile an AST document (parse output) and print the IR document",
		ArgsUsage: "FILE (- for stdin)",
		Action:    runCompile,
	}
}

// VisualizeCommand returns the visualize command.
func VisualizeCommand() *cli.Command {
	return imageCommand("visualize", "Render an IR document (compile output) as a circuit image")
}

// SimulateCommand returns the simulate command.
func SimulateCommand() *cli.Command {
	return imageCommand("simulate", "Simulate an IR document (compile output) and save the result plot")
}

func imageCommand(stage, usage string) *cli.Command {
	return &cli.Command{
		Name:      stage,
		Usage:     usage,
		ArgsUsage: "FILE (- for stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"O"},
				Usage:   "PNG destination (- for stdout)",
				Value:   stage + ".png",
			},
		},
		Action: func(c *cli.Context) error {
			return runImage(c, stage)
		},
	}
}

func runParse(c *cli.Context) error {
	code, err := readInput(c)
	if err != nil {
		return err
	}
	api, err := newClient(c, true)
	if err != nil {
		return err
	}
	out, err := api.Parse(commandContext(c), string(code))
	if err != nil {
		return explain(err)
	}
	return printJSON(c.App.Writer, out)
}

func runCompile(c *cli.Context) error {
	doc, err := readJSONInput(c)
	if err != nil {
		return err
	}
	api, err := newClient(c, true)
	if err != nil {
		return err
	}
	out, err := api.Compile(commandContext(c), doc)
	if err != nil {
		return explain(err)
	}
	return printJSON(c.App.Writer, out)
}

func runImage(c *cli.Context, stage string) error {
	doc, err := readJSONInput(c)
	if err != nil {
		return err
	}
	api, err := newClient(c, true)
	if err != nil {
		return err
	}

	dest := c.String("out")
	if dest == "-" {
		if f, ok := c.App.Writer.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errors.New("refusing to write an image to a terminal, use --out FILE")
		}
		_, err := api.Render(commandContext(c), stage, doc, c.App.Writer)
		return explain(err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := api.Render(commandContext(c), stage, doc, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest) //nolint:errcheck
		return explain(err)
	}

	loggerFrom(c).Debug(commandContext(c), "image saved", "stage", stage, "bytes", n)
	fmt.Fprintf(c.App.Writer, "Wrote %s (%d bytes)\n", dest, n)
	return nil
}

// readInput reads the file named by the first argument, or stdin for "-".
func readInput(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one FILE argument, got %d", c.NArg())
	}
	name := c.Args().First()
	if name == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func readJSONInput(c *cli.Context) (json.RawMessage, error) {
	data, err := readInput(c)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, errors.New("input is not a valid JSON document")
	}
	return json.RawMessage(data), nil
}

func printJSON(w io.Writer, doc json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(doc))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
