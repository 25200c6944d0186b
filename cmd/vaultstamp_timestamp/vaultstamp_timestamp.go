// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	fStr = "20060102.150405"
)

var rfc = flag.Bool("rfc3339", false, "Print times as RFC3339 with "+
	"nanoseconds instead of "+fStr)

// convert turns a nanosecond timestamp into a readable time and a readable
// time back into nanoseconds.
func convert(a string, rfc3339 bool) (string, error) {
	// Try number first
	ns, err := strconv.ParseInt(a, 10, 64)
	if err == nil {
		t := time.Unix(0, ns).UTC()
		if rfc3339 {
			return t.Format(time.RFC3339Nano), nil
		}
		return t.Format(fStr), nil
	}

	// Try timestamp second
	for _, layout := range []string{fStr, time.RFC3339Nano} {
		t, err := time.Parse(layout, a)
		if err == nil {
			return strconv.FormatInt(t.UnixNano(), 10), nil
		}
	}

	return "", fmt.Errorf("unrecognized timestamp: %v", a)
}

func _main() error {
	flag.Parse()

	for _, a := range flag.Args() {
		s, err := convert(a, *rfc)
		if err != nil {
			fmt.Printf("%v\n", err)
			continue
		}
		fmt.Printf("%v\n", s)
	}

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
