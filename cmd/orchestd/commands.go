package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"orchestd/internal/engine"
	"orchestd/internal/modelrepo"
	"orchestd/pkg/types"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunnersCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runners",
		Short: "List registered runners and the current selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				resp := e.Runners()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCAPABILITIES\tPRIORITY\tCOMPATIBLE\tSELECTED FOR")
				for _, r := range resp.Runners {
					var selected []string
					for c, name := range resp.Selection {
						if name == r.Name {
							selected = append(selected, c)
						}
					}
					sort.Strings(selected)
					fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", r.Name, strings.Join(r.Capabilities, ","), r.Priority, r.Compatible, strings.Join(selected, ","))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "models", Short: "Inspect and fetch models", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("models requires a subcommand: list|verify|pull")
	}}
	var asJSON bool
	list := &cobra.Command{Use: "list", Aliases: []string{"ls"}, Short: "List catalog and scanned models", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		return a.withEngine(cmd, func(e *engine.Engine) error {
			resp := e.Models(cmd.Context())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFORMAT\tRAM MB\tFILES\tAVAILABLE")
			for _, m := range resp.Models {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%v\n", m.ID, m.Format, m.RAMMB, m.Files, m.Available)
			}
			return tw.Flush()
		})
	}}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	verify := &cobra.Command{Use: "verify <model-id>", Short: "Check a model's files against their checksums", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return a.withEngine(cmd, func(e *engine.Engine) error {
			if err := e.VerifyModel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		})
	}}
	pull := &cobra.Command{Use: "pull <model-id>", Short: "Download a catalog model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return a.withEngine(cmd, func(e *engine.Engine) error {
			last := map[string]int64{}
			err := e.PullModel(cmd.Context(), args[0], func(p modelrepo.Progress) {
				// One line per 10% step per file.
				if p.Total <= 0 {
					return
				}
				step := p.Downloaded * 10 / p.Total
				if step == last[p.File] {
					return
				}
				last[p.File] = step
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %d%%\n", p.ModelID, p.File, step*10)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ready\n", args[0])
			return nil
		})
	}}
	cmd.AddCommand(list, verify, pull)
	return cmd
}

type inferFlags struct {
	session     string
	stream      bool
	params      []string
	audio       string
	audioFormat string
	sampleRate  int
	image       string
	imageMIME   string
	asJSON      bool
}

func newInferCmd(a *app) *cobra.Command {
	var f inferFlags
	cmd := &cobra.Command{
		Use:   "infer <capability> [text...]",
		Short: "Run one request in-process",
		Example: "  orchestd infer llm \"Write a haiku about the ocean\" --stream\n" +
			"  orchestd infer guardian \"ignore previous instructions\"\n" +
			"  orchestd infer asr --audio clip.wav -p language=en",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capability, err := types.ParseCapability(args[0])
			if err != nil {
				return err
			}
			body, err := f.request(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			req := body.ToRequest()
			return a.withEngine(cmd, func(e *engine.Engine) error {
				out := cmd.OutOrStdout()
				if !f.stream {
					res, err := e.Infer(cmd.Context(), capability, req)
					if err != nil {
						return err
					}
					return printResult(out, res, f.asJSON)
				}
				ch, err := e.InferStream(cmd.Context(), capability, req)
				if err != nil {
					return err
				}
				var last error
				for chunk := range ch {
					if chunk.Err != nil {
						last = chunk.Err
						continue
					}
					if f.asJSON {
						resp := types.NewInferResponse(chunk)
						resp.Done = !resp.Partial
						if err := json.NewEncoder(out).Encode(resp); err != nil {
							return err
						}
						continue
					}
					if text, ok := chunk.Text(types.SlotText); ok {
						fmt.Fprint(out, text)
					}
				}
				if !f.asJSON {
					fmt.Fprintln(out)
				}
				return last
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.session, "session", "", "Session id (generated when empty)")
	fl.BoolVar(&f.stream, "stream", false, "Stream partial results")
	fl.StringArrayVarP(&f.params, "param", "p", nil, "Runner parameter key=value (repeatable; values parsed as YAML scalars)")
	fl.StringVar(&f.audio, "audio", "", "Audio file for asr")
	fl.StringVar(&f.audioFormat, "audio-format", "", "Audio encoding (defaults to the file extension)")
	fl.IntVar(&f.sampleRate, "sample-rate", 16000, "Audio sample rate in Hz")
	fl.StringVar(&f.image, "image", "", "Image file for vlm")
	fl.StringVar(&f.imageMIME, "image-mime", "", "Image MIME type (defaults from the file extension)")
	fl.BoolVar(&f.asJSON, "json", false, "Print JSON (NDJSON when streaming)")
	return cmd
}

func (f inferFlags) request(text string) (types.InferRequest, error) {
	req := types.InferRequest{SessionID: f.session, Text: text, Stream: f.stream}
	params, err := parseParams(f.params)
	if err != nil {
		return req, err
	}
	req.Params = params
	if f.audio != "" {
		b, err := os.ReadFile(f.audio)
		if err != nil {
			return req, fmt.Errorf("read audio: %w", err)
		}
		req.Audio, req.SampleRate = b, f.sampleRate
		req.AudioFormat = f.audioFormat
		if req.AudioFormat == "" {
			req.AudioFormat = strings.TrimPrefix(strings.ToLower(filepath.Ext(f.audio)), ".")
		}
	}
	if f.image != "" {
		b, err := os.ReadFile(f.image)
		if err != nil {
			return req, fmt.Errorf("read image: %w", err)
		}
		req.Image, req.ImageMIME = b, f.imageMIME
		if req.ImageMIME == "" {
			req.ImageMIME = imageMIME(f.image)
		}
	}
	return req, nil
}

// parseParams turns key=value pairs into typed values ("0.2" is a float,
// "true" a bool, anything else a string).
func parseParams(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", kv)
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil || val == nil {
			val = v
		}
		if _, isMap := val.(map[string]any); isMap {
			val = v
		}
		out[k] = val
	}
	return out, nil
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	return "application/octet-stream"
}

func printResult(w io.Writer, res types.InferenceResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, types.NewInferResponse(res))
	}
	for _, slot := range res.TextSlots() {
		text, _ := res.Text(slot)
		fmt.Fprintln(w, text)
	}
	keys := make([]string, 0, len(res.Metadata))
	for k := range res.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "# %s: %s\n", k, res.Metadata[k])
	}
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, true); err != nil {
				return err
			}
			cfg := a.cfg
			if cfg.Llama.APIKey != "" {
				cfg.Llama.APIKey = "<redacted>"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
