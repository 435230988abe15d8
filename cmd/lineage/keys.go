package main

import (
	"bufio"
	"context"
	"io"
)

type key int

const (
	keyUp key = iota + 1
	keyDown
	keyQuit
)

// readKeys decodes arrow keys, vi keys and quit from r until ctx is done or r
// fails. Unknown bytes are ignored.
func readKeys(ctx context.Context, r io.Reader, out chan<- key) error {
	br := bufio.NewReader(r)
	emit := func(k key) error {
		select {
		case out <- k:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		var k key
		switch b {
		case 'k', 'w':
			k = keyUp
		case 'j', 's':
			k = keyDown
		case 'q', 3, 4: // q, ctrl-c, ctrl-d
			k = keyQuit
		case 0x1b:
			if next, err := br.ReadByte(); err != nil || next != '[' {
				continue
			}
			arrow, err := br.ReadByte()
			if err != nil {
				return err
			}
			switch arrow {
			case 'A':
				k = keyUp
			case 'B':
				k = keyDown
			}
		}
		if k == 0 {
			continue
		}
		if err := emit(k); err != nil {
			return err
		}
		if k == keyQuit {
			return nil
		}
	}
}

// parseMoves turns a script like "ddu" into keys.
func parseMoves(s string) []key {
	var out []key
	for _, c := range s {
		switch c {
		case 'u', 'k':
			out = append(out, keyUp)
		case 'd', 'j':
			out = append(out, keyDown)
		}
	}
	return out
}
