// Command redirects collects the go:redirect-from annotations in the kernel
// sources and stores the resolved address pairs in the .goredirectstbl
// section of the kernel image. Before main runs, the rt0 code overwrites the
// entry of every source symbol with a branch to its destination so that, for
// example, runtime.gopanic ends up in kfmt.Panic.
//
// Usage (from the module root):
//
//	redirects count
//	redirects populate-table kernel.elf
package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	redirectTableSection = ".goredirectstbl"

	// Each table entry is a little-endian (src, dst) pair of 32-bit
	// addresses.
	redirectEntrySize = 8
)

type redirect struct {
	src string
	dst string

	srcVMA uint32
	dstVMA uint32
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared in goModFile.
func modulePath(goModFile string) (string, error) {
	f, err := os.Open(goModFile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err = scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("%s: missing module directive", goModFile)
}

func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return goFiles, nil
}

// findRedirects parses goFiles, which live below the module root, and returns
// one redirect per annotated function.
func findRedirects(modPath, root string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", goFile, err)
		}

		pkgDir, err := filepath.Rel(root, filepath.Dir(goFile))
		if err != nil {
			return nil, err
		}

		pkgPath := modPath + "/" + filepath.ToSlash(pkgDir)
		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.Contains(comment.Text, "go:redirect-from") {
					continue
				}

				fqName := pkgPath + "." + fnDecl.Name.Name
				if fnDecl.Recv != nil {
					return nil, fmt.Errorf("go:redirect-from cannot target method %q", fqName)
				}

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != "//go:redirect-from" {
					return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{
					src: fields[1],
					dst: fqName,
				})
			}
		}
	}

	return redirects, nil
}

// openARMImage opens imgFile and checks that it is a 32-bit ARM executable.
func openARMImage(imgFile string) (*elf.File, error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return nil, err
	}

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_ARM {
		f.Close()
		return nil, fmt.Errorf("%s: not a 32-bit ARM image (%s, %s)", imgFile, f.Class, f.Machine)
	}

	return f, nil
}

func resolveRedirectSymbols(redirects []*redirect, symbols []elf.Symbol) error {
	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.src {
				redirect.srcVMA = uint32(symbol.Value)
			}
			if symbol.Name == redirect.dst {
				redirect.dstVMA = uint32(symbol.Value)
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// writeRedirectTable encodes redirects at the start of w. The table must fit
// in tableSize bytes.
func writeRedirectTable(w io.Writer, redirects []*redirect, tableSize uint64) error {
	if need := uint64(len(redirects)) * redirectEntrySize; need > tableSize {
		return fmt.Errorf("%s section holds %d bytes; %d redirects need %d", redirectTableSection, tableSize, len(redirects), need)
	}

	for _, redirect := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint32{redirect.srcVMA, redirect.dstVMA}); err != nil {
			return err
		}
	}

	return nil
}

func populateTable(redirects []*redirect, imgFile string) error {
	img, err := openARMImage(imgFile)
	if err != nil {
		return err
	}

	symbols, err := img.Symbols()
	if err != nil {
		img.Close()
		return err
	}

	section := img.Section(redirectTableSection)
	img.Close()
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	if err = resolveRedirectSymbols(redirects, symbols); err != nil {
		return fmt.Errorf("%s: %s", imgFile, err)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Seek(int64(section.Offset), io.SeekStart); err != nil {
		return err
	}

	return writeRedirectTable(f, redirects, section.Size)
}

func main() {
	flag.Parse()
	if matches, _ := filepath.Glob("kernel/"); len(matches) != 1 {
		exit(errors.New("this tool must be run from the module root folder"))
	}

	if len(flag.Args()) == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	var imgFile string
	switch cmd {
	case "count":
	case "populate-table":
		if len(flag.Args()) != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
		imgFile = flag.Arg(1)
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	modPath, err := modulePath("go.mod")
	if err != nil {
		exit(err)
	}

	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		exit(err)
	}

	redirects, err := findRedirects(modPath, ".", goFiles)
	if err != nil {
		exit(err)
	}

	if cmd == "count" {
		fmt.Printf("%d", len(redirects))
		return
	}

	if err = populateTable(redirects, imgFile); err != nil {
		exit(err)
	}
}
