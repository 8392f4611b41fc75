package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

func sqlCommand() *cli.Command {
	return &cli.Command{
		Name:  "sql",
		Usage: "Run ad hoc statements",
		Subcommands: []*cli.Command{
			{
				Name:   "test",
				Usage:  "Run a statement against a connection and preview the result",
				Action: testSQL,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "connection", Required: true, Usage: "Connection ID"},
					&cli.StringFlag{Name: "sql", Required: true, Usage: "Statement to run"},
				},
			},
		},
	}
}

func testSQL(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	res := transfer.TestStatement(c.Context, a.conns, c.String("connection"), c.String("sql"), a.cfg.Transfer.StatementPreviewRows)
	if jsonOutput(c) {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printStatementResult(res)
	}
	switch {
	case res.Success:
		return nil
	case res.Error == "":
		return etlerr.Unsupported("sql.test", "%s", res.Message)
	}
	return etlerr.Newf(etlerr.ErrExecution, "sql.test", "%s", res.Error)
}

func printStatementResult(res transfer.StatementTestResult) {
	fmt.Println(styleResult(res.Success, res.Message))
	if !res.Success {
		if res.Error != "" {
			fmt.Println(styleMuted.Render(res.Error))
		}
		return
	}
	if len(res.Columns) == 0 {
		return
	}

	widths := make([]int, len(res.Columns))
	for i, col := range res.Columns {
		widths[i] = len(col)
	}
	cells := make([][]string, len(res.Data))
	for r, row := range res.Data {
		cells[r] = make([]string, len(res.Columns))
		for i, col := range res.Columns {
			s := truncate(cellString(row, col), 40)
			cells[r][i] = s
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	header := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = fmt.Sprintf("%-*s", widths[i], col)
	}
	fmt.Println(styleHeader.Render(strings.Join(header, "  ")))
	for _, row := range cells {
		line := make([]string, len(row))
		for i, s := range row {
			line[i] = fmt.Sprintf("%-*s", widths[i], s)
		}
		fmt.Println(strings.Join(line, "  "))
	}
}

func cellString(row driver.Row, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return "NULL"
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "{" + strings.Join(keys, ",") + "}"
	}
	return fmt.Sprint(v)
}
