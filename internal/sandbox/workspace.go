package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const readmeFile = `# Welcome to Terminal

This is a live sandbox environment.

## Available Files
- ` + "`hello.py`" + ` - Simple Python script
- ` + "`data.json`" + ` - Sample JSON data
- ` + "`notes.txt`" + ` - Text notes

## Try These Commands
- ` + "`ls`" + ` - List files
- ` + "`cat README.md`" + ` - Display this file
- ` + "`python3 hello.py`" + ` - Run the Python script
- ` + "`cat data.json`" + ` - View JSON data
`

const helloFile = `#!/usr/bin/env python3
import sys

def main():
    print("Hello from the Terminal!")
    print(f"Python version: {sys.version}")

    result = sum(range(1, 11))
    print(f"\nSum of 1-10: {result}")

if __name__ == "__main__":
    main()
`

const dataFile = `{
  "project": "Terminal",
  "version": "1.0.0",
  "features": [
    "Terminal Integration",
    "Real-time Command Execution",
    "Session Management"
  ],
  "stats": {
    "files": 4,
    "languages": ["Python", "JSON", "Markdown"]
  }
}
`

const notesFormat = `Personal Notes
==============

This is a sample text file in your terminal session.
Feel free to create, edit, and delete files as needed.

Session expires in %s.
`

// SeedWorkdir writes the example files a new session starts with.
func SeedWorkdir(dir string, ttl time.Duration) error {
	files := []struct {
		name string
		body string
		mode os.FileMode
	}{
		{"README.md", readmeFile, 0o644},
		{"hello.py", helloFile, 0o755},
		{"data.json", dataFile, 0o644},
		{"notes.txt", fmt.Sprintf(notesFormat, ttl.Round(time.Second)), 0o644},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.body), f.mode); err != nil {
			return fmt.Errorf("sandbox: seed %s: %w", f.name, err)
		}
	}
	return nil
}
