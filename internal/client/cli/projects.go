package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/quickide/internal/client"
)

// ProjectsCommand returns the projects subcommand group.
func ProjectsCommand() *cli.Command {
	return &cli.Command{
		Name:    "projects",
		Aliases: []string{"proj"},
		Usage:   "Manage saved projects",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Save a new project",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "name",
						Aliases: []string{"n"},
						Usage:   "Project name (server default when omitted)",
					},
					&cli.StringFlag{
						Name:    "code-file",
						Aliases: []string{"f"},
						Usage:   "File with the project source (server default when omitted)",
					},
				},
				Action: projectCreate,
			},
			{
				Name:   "list",
				Usage:  "List your projects, newest first",
				Action: projectList,
			},
			{
				Name:      "get",
				Usage:     "Show a project",
				ArgsUsage: "PROJECT_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "code",
						Usage: "Print only the project source",
					},
				},
				Action: projectGet,
			},
		},
	}
}

func projectCreate(c *cli.Context) error {
	in := client.CreateProjectRequest{Name: c.String("name")}
	if path := c.String("code-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		code := string(data)
		in.Code = &code
	}

	api, err := newClient(c, true)
	if err != nil {
		return err
	}
	p, err := api.CreateProject(commandContext(c), in)
	if err != nil {
		return explain(err)
	}
	if jsonOutput(c) {
		return writeJSON(c.App.Writer, p)
	}
	fmt.Fprintf(c.App.Writer, "Created project %s (%s)\n", p.ID, p.Name)
	return nil
}

func projectList(c *cli.Context) error {
	api, err := newClient(c, true)
	if err != nil {
		return err
	}
	ps, err := api.ListProjects(commandContext(c))
	if err != nil {
		return explain(err)
	}
	if jsonOutput(c) {
		return writeJSON(c.App.Writer, ps)
	}
	if len(ps) == 0 {
		fmt.Fprintln(c.App.Writer, "No projects")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, p := range ps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func projectGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one PROJECT_ID argument, got %d", c.NArg())
	}
	api, err := newClient(c, true)
	if err != nil {
		return err
	}
	p, err := api.GetProject(commandContext(c), c.Args().First())
	if err != nil {
		return explain(err)
	}

	switch {
	case c.Bool("code"):
		_, err = io.WriteString(c.App.Writer, p.Code)
		return err
	case jsonOutput(c):
		return writeJSON(c.App.Writer, p)
	}
	fmt.Fprintf(c.App.Writer, "ID:      %s\nName:    %s\nCreated: %s\n\n%s\n",
		p.ID, p.Name, p.CreatedAt.Local().Format(time.DateTime), p.Code)
	return nil
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check that the gateway is up",
		Action: func(c *cli.Context) error {
			api, err := newClient(c, false)
			if err != nil {
				return err
			}
			if err := api.Health(commandContext(c)); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s is healthy\n", c.String("server"))
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
