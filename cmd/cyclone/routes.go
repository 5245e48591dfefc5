package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cyclone/internal/commands"
)

var (
	routesFormat string
	routesAll    bool
)

// routesCmd lists the command catalogue
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the registered routes and their commands",
	Long: `List every route and the commands registered under it. WebSocket-only commands, the
interactive ones and their children, are included with --all.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		return renderCatalogue(cmd.OutOrStdout(), catalogue(registry, routesAll), routesFormat, cfg.TestMode)
	},
}

func init() {
	routesCmd.Flags().StringVar(&routesFormat, "format", "text", "Output format (text|yaml|markdown)")
	routesCmd.Flags().BoolVar(&routesAll, "all", false, "Include WebSocket-only commands")
}

// routeEntry is one route of the catalogue.
type routeEntry struct {
	Route    string         `yaml:"route"`
	Commands []commandEntry `yaml:"commands"`
}

// commandEntry describes one registered command.
type commandEntry struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Interactive bool             `yaml:"interactive,omitempty"`
	WSOnly      bool             `yaml:"ws_only,omitempty"`
	Parent      string           `yaml:"parent,omitempty"`
	Args        []commands.Field `yaml:"args,omitempty"`
}

func catalogue(registry *commands.Registry, all bool) []routeEntry {
	var entries []routeEntry
	for _, route := range registry.Routes() {
		entry := routeEntry{Route: route}
		for _, d := range registry.Descriptors(route) {
			if d.WSOnly() && !all {
				continue
			}
			c := commandEntry{
				Name:        d.Name,
				Description: d.Description,
				Interactive: d.Interactive,
				WSOnly:      d.WSOnly(),
			}
			if d.Parent != nil {
				c.Parent = d.Parent.Name
			}
			for _, f := range d.Fields() {
				if !f.Injected {
					c.Args = append(c.Args, f)
				}
			}
			entry.Commands = append(entry.Commands, c)
		}
		entries = append(entries, entry)
	}
	return entries
}

var (
	routeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	tagStyle     = lipgloss.NewStyle().Faint(true)
)

func renderCatalogue(w io.Writer, entries []routeEntry, format string, plain bool) error {
	switch format {
	case "text":
		_, err := io.WriteString(w, catalogueText(entries, plain))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("encode catalogue: %w", err)
		}
		return enc.Close()
	case "markdown":
		style := glamour.WithAutoStyle()
		if plain {
			style = glamour.WithStandardStyle("notty")
		}
		renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(100))
		if err != nil {
			return fmt.Errorf("create markdown renderer: %w", err)
		}
		out, err := renderer.Render(catalogueMarkdown(entries))
		if err != nil {
			return fmt.Errorf("render catalogue: %w", err)
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return fmt.Errorf("unknown format %q (want text, yaml or markdown)", format)
	}
}

func catalogueText(entries []routeEntry, plain bool) string {
	render := func(style lipgloss.Style, s string) string {
		if plain {
			return s
		}
		return style.Render(s)
	}

	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(render(routeStyle, entry.Route))
		b.WriteString("\n")
		for _, c := range entry.Commands {
			fmt.Fprintf(&b, "  %-20s %s", render(commandStyle, c.Name), c.Description)
			if c.WSOnly {
				b.WriteString(" " + render(tagStyle, "[ws]"))
			}
			b.WriteString("\n")
			for _, f := range c.Args {
				flag := ""
				if f.Required {
					flag = " (required)"
				}
				fmt.Fprintf(&b, "      %s: %s%s\n", f.Name, f.Type, flag)
			}
		}
	}
	return b.String()
}

func catalogueMarkdown(entries []routeEntry) string {
	var b strings.Builder
	b.WriteString("# Routes\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "\n## %s\n\n", entry.Route)
		b.WriteString("| command | description | arguments | websocket only |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, c := range entry.Commands {
			args := make([]string, 0, len(c.Args))
			for _, f := range c.Args {
				arg := "`" + f.Name + "`"
				if f.Required {
					arg += "*"
				}
				args = append(args, arg)
			}
			wsOnly := ""
			if c.WSOnly {
				wsOnly = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", c.Name, c.Description, strings.Join(args, ", "), wsOnly)
		}
	}
	return b.String()
}
