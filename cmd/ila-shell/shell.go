// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/ila"
	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/internal/source"
	"github.com/go-lpc/ila/sample"
)

var cmds = map[string]string{
	"help":    "help                  display this message",
	"list":    "list                  list connected devices",
	"signals": "signals a:3,b:5       set the signals of the next sessions",
	"open":    "open SOURCE           open a session (uart:PORT[@BAUD], usb[:VID:PID[:SERIAL]], replay:FILE, sim[:N])",
	"refresh": "refresh               start streaming and wait for samples",
	"update":  "update [N]            ingest available samples, N times",
	"flush":   "flush                 request pending samples and wait for the acknowledgment",
	"stop":    "stop                  stop streaming and seal the capture",
	"status":  "status                display the session state and counters",
	"show":    "show [FROM [N]]       display N records starting at FROM",
	"vcd":     "vcd FILE              write the capture as a value change dump",
	"close":   "close                 close the session",
	"quit":    "quit                  close the session and exit",
	"version": "version               display the version of ila",
}

func complete(line string) []string {
	var out []string
	for name := range cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type shell struct {
	w    io.Writer
	opts []backhaul.Option
	lay  *sample.Layout
	ds   []backhaul.Discoverer

	src  string
	sess *backhaul.Session
}

func newShell(w io.Writer, opts ...backhaul.Option) *shell {
	return &shell{
		w:    w,
		opts: opts,
		ds:   source.Discoverers(),
	}
}

func (sh *shell) close() {
	if sh.sess == nil {
		return
	}
	err := sh.sess.Close()
	if err != nil {
		fmt.Fprintf(sh.w, "could not close session %q: %+v\n", sh.src, err)
	}
	sh.sess = nil
	sh.src = ""
}

// exec runs one command line. It reports whether the shell should exit.
func (sh *shell) exec(line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		sh.help()
	case "list":
		return false, sh.list()
	case "signals":
		return false, sh.signals(args)
	case "open":
		return false, sh.open(args)
	case "refresh":
		return false, sh.refresh()
	case "update":
		return false, sh.update(args)
	case "flush":
		return false, sh.flush()
	case "stop":
		return false, sh.stop()
	case "status":
		return false, sh.status()
	case "show":
		return false, sh.show(args)
	case "vcd":
		return false, sh.vcd(args)
	case "version":
		v, _ := ila.Version()
		if v == "" {
			v = "(devel)"
		}
		fmt.Fprintf(sh.w, "ila-shell version %s\n", v)
	case "close":
		sh.close()
	case "quit", "exit":
		sh.close()
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
	return false, nil
}

func (sh *shell) help() {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "  %s\n", cmds[name])
	}
}

func (sh *shell) list() error {
	devs, err := backhaul.Enumerate(sh.ds...)
	if err != nil {
		return fmt.Errorf("could not list devices: %w", err)
	}
	if len(devs) == 0 {
		fmt.Fprintf(sh.w, "no device found\n")
	}
	for _, dev := range devs {
		fmt.Fprintf(sh.w, "%v\n", dev)
	}
	return nil
}

func (sh *shell) signals(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", cmds["signals"])
	}
	lay, err := sample.ParseLayout(args[0])
	if err != nil {
		return fmt.Errorf("could not parse signals: %w", err)
	}
	sh.lay = lay
	fmt.Fprintf(sh.w, "signals: %v (%d bytes per record)\n", lay, lay.Bytes())
	return nil
}

func (sh *shell) open(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", cmds["open"])
	}
	if sh.lay == nil {
		return fmt.Errorf("no signals defined (try \"signals\")")
	}
	sh.close()

	spec, err := source.Parse(args[0])
	if err != nil {
		return err
	}
	tr, err := spec.Open(sh.lay)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", args[0], err)
	}

	sess, err := backhaul.New(tr, sh.lay, sh.opts...)
	if err != nil {
		_ = tr.Close()
		return fmt.Errorf("could not create session: %w", err)
	}
	sh.sess = sess
	sh.src = spec.String()
	fmt.Fprintf(sh.w, "opened %s\n", sh.src)
	return nil
}

func (sh *shell) session() (*backhaul.Session, error) {
	if sh.sess == nil {
		return nil, fmt.Errorf("no session (try \"open\")")
	}
	return sh.sess, nil
}

func (sh *shell) refresh() error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	err = sess.Refresh(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%s: %d records\n", sess.State(), sess.Buffer().Len())
	return nil
}

func (sh *shell) update(args []string) error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	n := 1
	if len(args) > 0 {
		n, err = strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid number of updates %q", args[0])
		}
	}
	for i := 0; i < n; i++ {
		err = sess.Update()
		if err != nil {
			return sh.report(err)
		}
	}
	fmt.Fprintf(sh.w, "%s: %d records\n", sess.State(), sess.Buffer().Len())
	return nil
}

func (sh *shell) flush() error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	err = sess.Flush(context.Background())
	if err != nil {
		return sh.report(err)
	}
	fmt.Fprintf(sh.w, "%s: %d records\n", sess.State(), sess.Buffer().Len())
	return nil
}

func (sh *shell) stop() error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	err = sh.report(sess.Stop())
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%s: %d records\n", sess.State(), sess.Buffer().Len())
	return nil
}

// report displays data loss warnings and returns the other errors.
func (sh *shell) report(err error) error {
	var ierr *sample.IncompleteRecordError
	if errors.As(err, &ierr) {
		fmt.Fprintf(sh.w, "warning: %v\n", err)
		return nil
	}
	return err
}

func (sh *shell) status() error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	var (
		buf = sess.Buffer()
		st  = sess.Stats()
	)
	fmt.Fprintf(sh.w, "src=%s state=%s records=%d/%d frames=%d lost=%d discarded=%d overflow=%d\n",
		sh.src, sess.State(), buf.Len(), buf.Depth(),
		st.Frames, st.LostFrames, st.Discarded, st.Overflow,
	)
	if err := sess.Err(); err != nil {
		fmt.Fprintf(sh.w, "error: %v (%v)\n", err, backhaul.KindOf(err))
	}
	return nil
}

func (sh *shell) show(args []string) error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	var (
		buf  = sess.Buffer()
		beg  = 0
		n    = 10
		ints = []*int{&beg, &n}
	)
	for i, arg := range args {
		if i >= len(ints) {
			return fmt.Errorf("usage: %s", cmds["show"])
		}
		v, err := strconv.Atoi(arg)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid record index %q", arg)
		}
		*ints[i] = v
	}

	end := beg + n
	if end > buf.Len() {
		end = buf.Len()
	}
	sigs := buf.Layout().Signals()
	for i := beg; i < end; i++ {
		vals, err := buf.Values(i)
		if err != nil {
			return fmt.Errorf("could not decode record %d: %w", i, err)
		}
		fmt.Fprintf(sh.w, "%6d %10v", i, buf.Time(i))
		for j, v := range vals {
			txt := v.String()
			if dec := sigs[j].Decoder; dec != nil {
				txt = dec(v)
			}
			fmt.Fprintf(sh.w, " %s=%s", sigs[j].Name, txt)
		}
		fmt.Fprintf(sh.w, "\n")
	}
	return nil
}

func (sh *shell) vcd(args []string) error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", cmds["vcd"])
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("could not create VCD file: %w", err)
	}
	defer f.Close()

	err = sess.WriteVCD(f)
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close VCD file: %w", err)
	}
	fmt.Fprintf(sh.w, "wrote %d records to %s\n", sess.Buffer().Len(), args[0])
	return nil
}
