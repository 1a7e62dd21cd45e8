package main

import (
	"os"
	"os/exec"
)

// Terminal cosmetics for kiosk displays: a blank screen with no blinking
// cursor behind the video. Failures are ignored; these are best-effort on
// consoles that support them.

func clearScreen() {
	cmd := exec.Command("clear")
	cmd.Stdout = os.Stdout
	cmd.Run()
}

func hideCursor() {
	cmd := exec.Command("tput", "civis")
	cmd.Stdout = os.Stdout
	cmd.Run()
}

func showCursor() {
	cmd := exec.Command("tput", "cnorm")
	cmd.Stdout = os.Stdout
	cmd.Run()
}
