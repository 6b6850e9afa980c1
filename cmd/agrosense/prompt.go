package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/otp"
)

var errAborted = errors.New("aborted")

const promptHelp = "Type digits (a full code may be pasted), Enter or :verify to submit, :back to move left, :resend for a new code, :quit to leave."

// runCodeScreen drives the code screen from line-based input until the code
// is verified or the user quits
func runCodeScreen(ctx context.Context, ctrl *otp.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, promptHelp)
	render(out, ctrl.Snapshot())

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		snap := ctrl.Snapshot()

		var err error
		switch line {
		case ":q", ":quit":
			return errAborted
		case "", ":verify":
			err = ctrl.Verify(ctx)
			if err == nil {
				fmt.Fprintln(out, "Verified.")
				return nil
			}
		case ":back":
			if snap.Cells[snap.Focus] != "" {
				err = ctrl.Input(snap.Focus, "")
			} else {
				err = ctrl.KeyPress(snap.Focus, "Backspace")
			}
		case ":resend":
			err = ctrl.Resend(ctx)
			if err == nil {
				fmt.Fprintln(out, "A new code has been sent.")
			}
		default:
			err = ctrl.Input(snap.Focus, line)
		}

		switch {
		case err == nil:
		case errors.Is(err, otp.ErrCooldownActive):
			fmt.Fprintf(out, "Resend available in %s\n", formatCooldown(ctrl.CooldownRemaining()))
		case errors.Is(err, otp.ErrIncompleteCode), errors.As(err, new(*authclient.DomainError)), errors.As(err, new(*authclient.NetworkError)):
			// shown by render
		default:
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		render(out, ctrl.Snapshot())
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errAborted
}

func render(out io.Writer, s otp.Snapshot) {
	var b strings.Builder
	for i, d := range s.Cells {
		if d == "" {
			d = " "
		}
		if i == s.Focus {
			fmt.Fprintf(&b, ">%s<", d)
		} else {
			fmt.Fprintf(&b, "[%s]", d)
		}
	}

	if s.CooldownRemaining > 0 {
		fmt.Fprintf(&b, "  resend in %s", formatCooldown(s.CooldownRemaining))
	} else {
		b.WriteString("  :resend available")
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "\n  ! %s", s.Error)
	}
	fmt.Fprintln(out, b.String())
}

func formatCooldown(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
