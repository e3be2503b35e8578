package cmd

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vectorink/starvectord/api"
	"github.com/vectorink/starvectord/envconfig"
	"github.com/vectorink/starvectord/format"
	"github.com/vectorink/starvectord/progress"
	"github.com/vectorink/starvectord/server"
	"github.com/vectorink/starvectord/starvector"
	"github.com/vectorink/starvectord/version"
)

func ServeHandler(cmd *cobra.Command, _ []string) error {
	initLogging()

	modelSize, _ := cmd.Flags().GetString("model")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	if _, err := starvector.ModelID(modelSize); err != nil {
		return err
	}

	switch modelSize {
	case "1b":
		slog.Info("starvector-1b requirements", "ram", "8GB+", "inference", "30-60s per image")
	case "8b":
		slog.Info("starvector-8b requirements", "ram", "24GB+", "inference", "2-5min per image")
	}

	var addr string
	if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	} else {
		addr = envconfig.Host(host, port)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("starting starvectord", "version", version.Version, "addr", addr, "model", modelSize)

	return server.Serve(cmd.Context(), ln, server.Options{
		ModelSize: modelSize,
		ModelsDir: envconfig.Models(),
	})
}

func GenerateHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	temperature, _ := cmd.Flags().GetFloat64("temperature")
	output, _ := cmd.Flags().GetString("output")

	client := api.NewClient(host, nil)

	spinner := progress.NewSpinner(os.Stderr, fmt.Sprintf("generating svg from %s (%s)", args[0], format.HumanBytes(int64(len(data)))))

	resp, err := client.Generate(cmd.Context(), &api.GenerateRequest{
		Image:       base64.StdEncoding.EncodeToString(data),
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	spinner.Stop()
	if err != nil {
		return err
	}

	if output != "" {
		return os.WriteFile(output, []byte(resp.SVGCode), 0o644)
	}

	fmt.Println(resp.SVGCode)
	return nil
}

func initLogging() {
	level := slog.LevelInfo
	if envconfig.Debug() {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:   "starvectord",
		Short: "Local StarVector image-to-SVG server",
		Long:  "Development server that loads a pretrained StarVector checkpoint on CPU and converts raster images to SVG over a small HTTP API.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Load a checkpoint and serve the HTTP API",
		Args:    cobra.NoArgs,
		RunE:    ServeHandler,
	}
	serveCmd.Flags().String("model", "1b", "Model size: 1b (faster) or 8b (better quality)")
	serveCmd.Flags().String("host", "localhost", "Address to bind")
	serveCmd.Flags().Int("port", 8000, "Port to listen on")

	generateCmd := &cobra.Command{
		Use:   "generate IMAGE",
		Short: "Send an image file to a running server and print the SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  GenerateHandler,
	}
	generateCmd.Flags().String("host", envconfig.Host("localhost", 8000), "Server address")
	generateCmd.Flags().Int("max-tokens", 2048, "Maximum generation length")
	generateCmd.Flags().Float64("temperature", 0.1, "Sampling temperature in [0,1]; 0 decodes greedily")
	generateCmd.Flags().StringP("output", "o", "", "Write the SVG to a file instead of stdout")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("starvectord version", version.Version)
		},
	}

	rootCmd.AddCommand(serveCmd, generateCmd, versionCmd)

	return rootCmd
}
