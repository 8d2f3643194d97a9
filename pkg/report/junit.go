// Package report reads test results written by external test runners.
package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Summary totals the cases of one or more JUnit test suites.
type Summary struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int
}

// Failed reports whether any case failed or errored.
func (s Summary) Failed() bool { return s.Failures+s.Errors > 0 }

func (s Summary) String() string {
	return fmt.Sprintf("%d tests, %d failures, %d errors, %d skipped", s.Tests, s.Failures, s.Errors, s.Skipped)
}

func (s *Summary) add(o Summary) {
	s.Tests += o.Tests
	s.Failures += o.Failures
	s.Errors += o.Errors
	s.Skipped += o.Skipped
}

type testSuites struct {
	Suites []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Tests    *int        `xml:"tests,attr"`
	Failures *int        `xml:"failures,attr"`
	Errors   *int        `xml:"errors,attr"`
	Skipped  *int        `xml:"skipped,attr"`
	Cases    []testCase  `xml:"testcase"`
	Suites   []testSuite `xml:"testsuite"`
}

type testCase struct {
	Name    string    `xml:"name,attr"`
	Failure *struct{} `xml:"failure"`
	Error   *struct{} `xml:"error"`
	Skipped *struct{} `xml:"skipped"`
}

// summarize prefers the counts declared on the suite, which already include
// nested suites, and falls back to counting its cases and nested suites when
// an attribute is missing.
func (t testSuite) summarize() Summary {
	var counted Summary
	for _, c := range t.Cases {
		counted.Tests++
		switch {
		case c.Failure != nil:
			counted.Failures++
		case c.Error != nil:
			counted.Errors++
		case c.Skipped != nil:
			counted.Skipped++
		}
	}

	for _, nested := range t.Suites {
		counted.add(nested.summarize())
	}

	return Summary{
		Tests:    pick(t.Tests, counted.Tests),
		Failures: pick(t.Failures, counted.Failures),
		Errors:   pick(t.Errors, counted.Errors),
		Skipped:  pick(t.Skipped, counted.Skipped),
	}
}

func pick(declared *int, counted int) int {
	if declared != nil {
		return *declared
	}
	return counted
}

// ParseJUnit reads a JUnit XML document. Both a <testsuites> root and a
// bare <testsuite> root are accepted.
func ParseJUnit(r io.Reader) (Summary, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, err
	}

	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(b, &root); err != nil {
		return Summary{}, fmt.Errorf("unable to parse junit report: %w", err)
	}

	var s Summary
	switch root.XMLName.Local {
	case "testsuites":
		var suites testSuites
		if err := xml.Unmarshal(b, &suites); err != nil {
			return Summary{}, fmt.Errorf("unable to parse junit report: %w", err)
		}
		for _, suite := range suites.Suites {
			s.add(suite.summarize())
		}
	case "testsuite":
		var suite testSuite
		if err := xml.Unmarshal(b, &suite); err != nil {
			return Summary{}, fmt.Errorf("unable to parse junit report: %w", err)
		}
		s = suite.summarize()
	default:
		return Summary{}, fmt.Errorf("unexpected junit root element <%s>", root.XMLName.Local)
	}
	return s, nil
}

// ReadJUnit parses the JUnit report at path.
func ReadJUnit(path string) (Summary, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	return ParseJUnit(f)
}
