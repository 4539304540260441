// Copyright 2026 The btcsign Authors
// This file is part of btcsign.
//
// btcsign is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// btcsign is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with btcsign. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsign/btcsign/console/prompt"
	"github.com/btcsign/btcsign/messages"
	"github.com/ethereum/go-ethereum/log"
	"github.com/peterh/liner"
)

// maxPinLength is the longest PIN the firmware accepts.
const maxPinLength = 50

// pinKeys maps the keyboard letters laid out like a keypad onto PIN positions.
var pinKeys = strings.NewReplacer("c", "1", "v", "2", "b", "3", "d", "4", "f", "5", "g", "6", "e", "7", "r", "8", "t", "9")

// errPromptAborted is returned if the user pressed Ctrl-C at a prompt.
var errPromptAborted = errors.New("aborted at prompt")

const pinMatrix = `
Use the numeric keypad to describe number positions.
The layout is:
    7 8 9
    4 5 6
    1 2 3
`

var pinPrompts = map[uint32]string{
	1: "Please enter current PIN: ",
	2: "Please enter new PIN: ",
	3: "Please re-enter new PIN: ",
}

// terminalUI answers device prompts on the terminal.
type terminalUI struct {
	prompter prompt.UserPrompter
	out      io.Writer

	matrixShown bool
}

func newTerminalUI(prompter prompt.UserPrompter, out io.Writer) *terminalUI {
	return &terminalUI{prompter: prompter, out: out}
}

func (ui *terminalUI) ButtonRequest(code messages.ButtonRequestType) {
	log.Debug("Device waiting for confirmation", "code", code)
	fmt.Fprintf(ui.out, "Please confirm action on your device (%v).\n", code)
}

func (ui *terminalUI) Pin(kind uint32) (string, error) {
	text, ok := pinPrompts[kind]
	if !ok {
		text = "Please enter PIN: "
	}
	if !ui.matrixShown {
		fmt.Fprint(ui.out, pinMatrix)
		ui.matrixShown = true
	}
	for {
		pin, err := ui.prompter.PromptPassword(text)
		if err != nil {
			return "", promptError(err)
		}
		if pin != "" && strings.Trim(pin, "cvbdfgert") == "" {
			pin = pinKeys.Replace(pin)
		}
		switch {
		case !validPin(pin):
			fmt.Fprintln(ui.out, "The PIN must only contain digits 1 to 9.")
		case len(pin) > maxPinLength:
			fmt.Fprintf(ui.out, "The PIN must be at most %d digits in length.\n", maxPinLength)
		default:
			return pin, nil
		}
	}
}

func (ui *terminalUI) Passphrase() (string, error) {
	if passphrase, ok := os.LookupEnv("PASSPHRASE"); ok {
		fmt.Fprintln(ui.out, "Passphrase required. Using PASSPHRASE environment variable.")
		return passphrase, nil
	}
	for {
		first, err := ui.prompter.PromptPassword("Passphrase required: ")
		if err != nil {
			return "", promptError(err)
		}
		second, err := ui.prompter.PromptPassword("Confirm your passphrase: ")
		if err != nil {
			return "", promptError(err)
		}
		if first == second {
			return first, nil
		}
		fmt.Fprintln(ui.out, "Passphrase did not match. Please try again.")
	}
}

// confirm asks a yes/no question, an aborted prompt counts as no.
func (ui *terminalUI) confirm(question string) bool {
	ok, err := ui.prompter.PromptConfirm(question)
	if err != nil {
		log.Debug("Confirmation prompt failed", "err", err)
		return false
	}
	return ok
}

func validPin(pin string) bool {
	if len(pin) == 0 {
		return false
	}
	for _, c := range pin {
		if c < '1' || c > '9' {
			return false
		}
	}
	return true
}

func promptError(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) {
		return errPromptAborted
	}
	return err
}
