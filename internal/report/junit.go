// Package report renders harness runs as JUnit XML result files, the format
// test drivers and CI systems collect.
package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/roach88/xtsunit/internal/harness"
)

// TestSuites is the <testsuites> root element.
type TestSuites struct {
	XMLName   xml.Name    `xml:"testsuites"`
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Disabled  int         `xml:"disabled,attr"`
	Errors    int         `xml:"errors,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Time      string      `xml:"time,attr"`
	Suites    []TestSuite `xml:"testsuite"`
}

// TestSuite is one describe block. Nested suites are flattened; Name holds
// the full path joined with "/".
type TestSuite struct {
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Disabled  int        `xml:"disabled,attr"`
	Errors    int        `xml:"errors,attr"`
	Time      string     `xml:"time,attr"`
	Cases     []TestCase `xml:"testcase"`
	SystemErr string     `xml:"system-err,omitempty"`
}

// TestCase is one it block.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Status    string   `xml:"status,attr"`
	Result    string   `xml:"result,attr"`
	Level     string   `xml:"level,attr,omitempty"`
	Time      string   `xml:"time,attr"`
	Failure   *Failure `xml:"failure,omitempty"`
	Skipped   *Skipped `xml:"skipped,omitempty"`
}

// Failure describes why a case failed or timed out.
type Failure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

// Skipped marks a case that did not run.
type Skipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// Build converts a run into the JUnit document.
//
// Failed and timed-out cases count as failures and carry a <failure>
// element, typed "assertion", "error" or "timeout". Skipped cases count as
// disabled. Hook failures count as errors of the suite they were recorded
// in and are listed in its <system-err>.
func Build(result *harness.RunResult) *TestSuites {
	doc := &TestSuites{
		Name:      "AllTests",
		Timestamp: result.StartedAt.UTC().Format("2006-01-02T15:04:05"),
		Time:      seconds(result.Duration),
	}
	for _, s := range result.Suites {
		flatten(s, &doc.Suites)
	}
	for _, s := range doc.Suites {
		doc.Tests += s.Tests
		doc.Failures += s.Failures
		doc.Disabled += s.Disabled
		doc.Errors += s.Errors
	}
	return doc
}

func flatten(s *harness.SuiteResult, out *[]TestSuite) {
	if len(s.Cases) > 0 || len(s.HookFailures) > 0 {
		*out = append(*out, buildSuite(s))
	}
	for _, child := range s.Suites {
		flatten(child, out)
	}
}

func buildSuite(s *harness.SuiteResult) TestSuite {
	ts := TestSuite{Name: strings.Join(s.Path, "/")}
	var total time.Duration
	for _, c := range s.Cases {
		ts.Cases = append(ts.Cases, buildCase(c))
		ts.Tests++
		total += c.Duration
		switch c.Status {
		case harness.StatusFailed, harness.StatusTimedOut:
			ts.Failures++
		case harness.StatusSkipped:
			ts.Disabled++
		}
	}
	ts.Time = seconds(total)

	var lines []string
	for _, hf := range s.HookFailures {
		ts.Errors++
		line := fmt.Sprintf("%s failed: %s", hf.Hook, hf.Error)
		if hf.Case != "" {
			line = fmt.Sprintf("%s (%s) failed: %s", hf.Hook, hf.Case, hf.Error)
		}
		lines = append(lines, line)
	}
	ts.SystemErr = strings.Join(lines, "\n")
	return ts
}

func buildCase(c *harness.CaseResult) TestCase {
	tc := TestCase{
		Name:      c.Name,
		ClassName: strings.Join(c.Suite, "/"),
		Status:    "run",
		Result:    "true",
		Time:      seconds(c.Duration),
	}
	if lvl := c.Flags.Level(); lvl >= 0 {
		tc.Level = fmt.Sprintf("%d", lvl)
	}

	switch c.Status {
	case harness.StatusSkipped:
		tc.Status = "notrun"
		tc.Result = "false"
		tc.Skipped = &Skipped{Message: c.Error}
	case harness.StatusTimedOut:
		tc.Result = "false"
		tc.Failure = &Failure{Message: c.Error, Type: "timeout", Text: failureText(c)}
	case harness.StatusFailed:
		tc.Result = "false"
		text := failureText(c)
		typ := "error"
		if text != "" && strings.SplitN(text, "\n", 2)[0] == c.Error {
			typ = "assertion"
		}
		tc.Failure = &Failure{Message: c.Error, Type: typ, Text: text}
	}
	return tc
}

// failureText lists every failed assertion of the case, one per line.
func failureText(c *harness.CaseResult) string {
	var lines []string
	for _, o := range c.Outcomes {
		if !o.Pass {
			lines = append(lines, o.Message)
		}
	}
	return strings.Join(lines, "\n")
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// Write encodes the JUnit document for result to w.
func Write(w io.Writer, result *harness.RunResult) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(Build(result)); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes the JUnit document for result to path.
func WriteFile(path string, result *harness.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create junit file: %w", err)
	}
	if err := Write(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
