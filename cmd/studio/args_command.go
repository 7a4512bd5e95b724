package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"livestream-studio/internal/encoder"
	"livestream-studio/internal/models"
)

func newArgsCommand(ctx *commandContext) *cobra.Command {
	var sessionCfg models.SessionConfig
	var (
		lines bool
		input encoder.Input
	)

	cmd := &cobra.Command{
		Use:   "args",
		Short: "Print the encoder command line for a session config",
		Long:  "Print the ffmpeg arguments a session with the given settings would run. The destination key is redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := sessionCfg.Validate(); err != nil {
				return err
			}
			opts, err := encoderOptions(cfg)
			if err != nil {
				return err
			}
			built, err := encoder.BuildArguments(opts, sessionCfg, input)
			if err != nil {
				return err
			}
			redacted := encoder.RedactArguments(built, sessionCfg.DestinationKey)

			out := cmd.OutOrStdout()
			if lines {
				fmt.Fprintln(out, opts.Binary)
				for _, arg := range redacted {
					fmt.Fprintln(out, "  "+arg)
				}
				return nil
			}
			fmt.Fprintln(out, opts.Binary+" "+strings.Join(redacted, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionCfg.DestinationKey, "key", "", "Stream destination key")
	cmd.Flags().StringVar(&sessionCfg.Resolution, "resolution", models.DefaultResolution, "Output resolution WIDTHxHEIGHT")
	cmd.Flags().IntVar(&sessionCfg.FrameRate, "framerate", models.DefaultFrameRate, "Output frame rate")
	cmd.Flags().StringVar(&sessionCfg.Bitrate, "bitrate", models.DefaultBitrate, "Video bitrate such as 2500k")
	cmd.Flags().StringVar(&sessionCfg.Preset, "preset", models.DefaultPreset, "x264 preset")
	cmd.Flags().BoolVar(&sessionCfg.HardwareAcceleration, "hw", false, "Encode with NVENC")
	cmd.Flags().StringVar(&input.AudioSource, "audio-source", "", "PulseAudio source to record instead of silence")
	cmd.Flags().BoolVar(&lines, "lines", false, "Print one argument per line")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
