package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"grounded-query/internal/app"
	"grounded-query/internal/grounding"
	"grounded-query/internal/persona"
	"grounded-query/internal/render"
)

type cli struct {
	Query     string  `arg:"" help:"The search query to send to the AI model."`
	Grounding bool    `default:"true" negatable:"" help:"Enable web search grounding."`
	Temp      float64 `default:"0.2" help:"Model temperature, 0.0 to 1.0."`
	Category  string  `default:"research" enum:"${categories}" help:"Built-in system instruction (${enum})."`
	System    string  `help:"Custom system instruction; overrides --category."`
	Remote    bool    `help:"Send the query to a queue worker instead of calling the API directly."`
}

// Validate runs after parsing, before any client is built.
func (c *cli) Validate() error {
	if strings.TrimSpace(c.Query) == "" {
		return errors.New("query must not be empty")
	}
	if c.Temp < 0 || c.Temp > 1 {
		return fmt.Errorf("--temp must be between 0.0 and 1.0, got %g", c.Temp)
	}
	return nil
}

func (c *cli) request() (grounding.QueryRequest, error) {
	instruction := c.System
	if instruction == "" {
		text, err := persona.Lookup(c.Category)
		if err != nil {
			return grounding.QueryRequest{}, err
		}
		instruction = text
	}
	return grounding.QueryRequest{
		Query:             strings.TrimSpace(c.Query),
		SystemInstruction: instruction,
		Temperature:       grounding.Float(c.Temp),
		GroundingEnabled:  c.Grounding,
	}, nil
}

func parserOptions() []kong.Option {
	return []kong.Option{
		kong.Name("ask"),
		kong.Vars{"categories": strings.Join(persona.Categories(), ",")},
	}
}

func main() {
	var args cli
	kong.Parse(&args, append(parserOptions(),
		kong.Description("Run a grounded search query against the generative-language API."),
		kong.UsageOnError(),
	)...)
	os.Exit(ask(&args))
}

// ask builds dependencies, runs the query, and returns the process exit code.
func ask(args *cli) int {
	deps, err := app.BuildCLI(args.Remote)
	if err != nil {
		fmt.Fprintln(os.Stderr, render.FormatError(err))
		return 1
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, app.CallBudget(deps.Config))
	defer cancel()

	deps.Log.Debug("sending request", "grounding", args.Grounding, "remote", args.Remote)
	if err := run(ctx, args, deps.Querier, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, render.FormatError(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, args *cli, q grounding.Querier, out io.Writer) error {
	req, err := args.request()
	if err != nil {
		return err
	}
	result, err := q.Execute(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "--- AI Search Results ---\n%s\n", render.FormatResult(result))
	return err
}
