package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwise/internal/app"
	"github.com/MrWong99/speakwise/internal/config"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/types"
)

// withCoach loads the config, builds a coach, runs fn and closes the coach.
func withCoach(cmd *cobra.Command, opts *rootOptions, fn func(*app.Coach) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	coach, err := buildCoach(cfg, config.NewCredentials(cfg), observe.DefaultMetrics())
	if err != nil {
		return err
	}
	defer coach.Close()
	return fn(coach)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var withCritique bool
	var prompt string
	cmd := &cobra.Command{
		Use:   "score <audio-file> <target text>...",
		Short: "Score the pronunciation of a recording",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, text := args[0], strings.Join(args[1:], " ")
			return withCoach(cmd, opts, func(c *app.Coach) error {
				if withCritique {
					data, err := os.ReadFile(path)
					if err != nil {
						return types.Wrap(types.KindInvalidArgument, err)
					}
					a, err := c.Assess(cmd.Context(), data, text, prompt)
					if err != nil {
						return err
					}
					return printJSON(cmd, a)
				}
				res, err := c.ScorePronunciation(cmd.Context(), scoring.FileAudio{Path: path}, text)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().BoolVar(&withCritique, "critique", false, "also request a critique of the recording")
	cmd.Flags().StringVar(&prompt, "prompt", "", "critique prompt (default: built-in prompt)")
	return cmd
}

func newPhonemizeCmd(opts *rootOptions) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "phonemize <text>...",
		Short: "Print the IPA transcription of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoach(cmd, opts, func(c *app.Coach) error {
				if language != "" {
					if err := c.SetLanguage(language); err != nil {
						return err
					}
				}
				ipa, err := c.Phonemize(strings.Join(args, " "))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), ipa)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "phonemizer language tag (default: engine.language)")
	return cmd
}

func newCritiqueCmd(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "critique <audio-file>",
		Short: "Ask the remote model for pronunciation feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return types.Wrap(types.KindInvalidArgument, err)
			}
			return withCoach(cmd, opts, func(c *app.Coach) error {
				text, err := c.CritiqueAudio(cmd.Context(), data, prompt)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "critique prompt (default: built-in prompt)")
	return cmd
}
