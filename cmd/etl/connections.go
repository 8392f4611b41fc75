package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/johndauphine/etl-orchestrator/internal/connection"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func connectionSpecFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Connection name"},
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Connection type: row-store, columnar-store, kv-store (or mysql, mssql, postgres, redis)"},
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "Host name"},
		&cli.IntFlag{Name: "port", Usage: "Port (driver default when omitted)"},
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "User name"},
		&cli.StringFlag{Name: "password", Usage: "Password", EnvVars: []string{"ETL_CONNECTION_PASSWORD"}},
		&cli.BoolFlag{Name: "password-prompt", Usage: "Read the password from the terminal"},
		&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "Database name (Redis: db number)"},
		&cli.StringFlag{Name: "description", Usage: "Free-form description"},
		&cli.StringFlag{Name: "driver", Usage: "Driver flavour, e.g. mssql for a row-store on SQL Server"},
		&cli.StringSliceFlag{Name: "set", Usage: "Extra config as key=value (repeatable)"},
	}
}

func connectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "connection",
		Usage: "Manage connections to external stores",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List connections",
				Action: listConnections,
			},
			{
				Name:   "add",
				Usage:  "Create a connection",
				Action: addConnection,
				Flags:  connectionSpecFlags(),
			},
			{
				Name:   "test",
				Usage:  "Probe a stored connection (--id) or an inline definition",
				Action: testConnection,
				Flags:  append([]cli.Flag{&cli.StringFlag{Name: "id", Usage: "Stored connection ID"}}, connectionSpecFlags()...),
			},
			{
				Name:   "delete",
				Usage:  "Delete a connection",
				Action: deleteConnection,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true, Usage: "Connection ID"},
				},
			},
		},
	}
}

func listConnections(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	conns, err := a.conns.List(c.Context)
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(conns)
	}
	printConnections(conns)
	return nil
}

func specFromFlags(c *cli.Context) (connection.Spec, error) {
	spec := connection.Spec{
		Name:        c.String("name"),
		Description: c.String("description"),
		Type:        c.String("type"),
		Host:        c.String("host"),
		Port:        c.Int("port"),
		Username:    c.String("username"),
		Password:    c.String("password"),
		Database:    c.String("database"),
	}
	cfg, err := parseSettings(c.StringSlice("set"))
	if err != nil {
		return spec, err
	}
	if d := c.String("driver"); d != "" {
		cfg["driver"] = d
	}
	if len(cfg) > 0 {
		spec.Config = cfg
	}

	if c.Bool("password-prompt") {
		pw, err := readPassword(fmt.Sprintf("Password for %s@%s: ", spec.Username, spec.Host))
		if err != nil {
			return spec, err
		}
		spec.Password = pw
	}
	return spec, nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", etlerr.Validation("connection.add", "--password-prompt needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// parseSettings turns key=value pairs into config. Values that parse as
// JSON (numbers, booleans, objects) keep their type; the rest are strings.
func parseSettings(pairs []string) (model.Config, error) {
	cfg := model.Config{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, etlerr.Validation("config", "expected key=value, got %q", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			cfg[k] = decoded
		} else {
			cfg[k] = v
		}
	}
	return cfg, nil
}

func addConnection(c *cli.Context) error {
	spec, err := specFromFlags(c)
	if err != nil {
		return err
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := a.conns.Create(c.Context, spec)
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(conn)
	}
	fmt.Printf("Created connection %q (%s)\n", conn.Name, conn.ID)
	return nil
}

func testConnection(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	var res connection.TestResult
	if id := c.String("id"); id != "" {
		if res, err = a.conns.TestConnectionByID(c.Context, id); err != nil {
			return err
		}
	} else {
		spec, err := specFromFlags(c)
		if err != nil {
			return err
		}
		res = a.conns.Test(c.Context, spec)
	}

	if jsonOutput(c) {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Println(styleResult(res.Success, res.Message))
	}
	if !res.Success {
		return etlerr.Newf(etlerr.ErrConnectivity, "connection.test", "%s", res.Message)
	}
	return nil
}

func deleteConnection(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.String("id")
	if err := a.conns.Delete(c.Context, id); err != nil {
		return err
	}
	if !jsonOutput(c) {
		fmt.Printf("Deleted connection %s\n", id)
	}
	return nil
}
