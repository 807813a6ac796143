package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/annel0/blockkit/internal/storage"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
)

func main() {
	var (
		command = flag.String("cmd", "describe", "Command: describe, offset, table, parse, export, import")
		value   = flag.String("facings", "0", "Facings: число 0..63 или список сторон (down,up,...)")
		origin  = flag.String("origin", "0,0,0", "Точка для offset: x,y,z")
		dbPath  = flag.String("db", "./data/facings", "Каталог BadgerDB для export/import (сервер должен быть остановлен)")
		file    = flag.String("file", "facings.zst", "Файл снимка для export/import")
	)
	flag.Parse()

	var err error
	switch *command {
	case "describe":
		err = describe(*value)
	case "parse":
		err = parse(*value)
	case "offset":
		err = offset(*value, *origin)
	case "table":
		table()
	case "export":
		err = exportSnapshot(*dbPath, *file)
	case "import":
		err = importSnapshot(*dbPath, *file)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		fmt.Println("Available commands: describe, offset, table, parse, export, import")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFacings(raw string) (*block.Facings, error) {
	if n, err := strconv.ParseUint(raw, 0, 8); err == nil {
		if n > 63 {
			return nil, fmt.Errorf("%w: %d > 63", block.ErrInvalidArgument, n)
		}
		return block.FromBits(uint8(n)), nil
	}
	return block.ParseFacings(raw)
}

func describe(raw string) error {
	f, err := parseFacings(raw)
	if err != nil {
		return err
	}

	fmt.Println(f)
	fmt.Printf("  value:     %d (0b%06b)\n", f.Value(), f.Value())
	fmt.Printf("  short:     %s\n", f.ShortString())
	fmt.Printf("  count:     %d set, %d unset\n", f.CountWhere(true), f.CountWhere(false))
	fmt.Printf("  category:  %s\n", f.Category())
	if d, ok := f.FirstWhere(true); ok {
		fmt.Printf("  first set: %s\n", d)
	}
	fmt.Printf("  offset:    %s\n", f.Offset(vec.Vec3{}))
	return nil
}

func parse(raw string) error {
	f, err := block.ParseFacings(raw)
	if err != nil {
		return err
	}
	fmt.Println(f.Value())
	return nil
}

func offset(raw, originRaw string) error {
	f, err := parseFacings(raw)
	if err != nil {
		return err
	}

	parts := strings.Split(originRaw, ",")
	if len(parts) != 3 {
		return fmt.Errorf("origin должен быть x,y,z: %q", originRaw)
	}
	var coords [3]int
	for i, p := range parts {
		if coords[i], err = strconv.Atoi(strings.TrimSpace(p)); err != nil {
			return fmt.Errorf("origin: %w", err)
		}
	}

	o := vec.Vec3{X: coords[0], Y: coords[1], Z: coords[2]}
	fmt.Printf("%s + %s = %s\n", o, f.ShortString(), f.Offset(o))
	return nil
}

// table печатает все 64 комбинации
func table() {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VALUE\tBITS\tSHORT\tCOUNT\tCATEGORY\tOFFSET")
	for v := 0; v < 64; v++ {
		f := block.FromBits(uint8(v))
		fmt.Fprintf(w, "%d\t%06b\t%s\t%d\t%s\t%s\n",
			v, v, f.ShortString(), f.CountWhere(true), f.Category(), f.Offset(vec.Vec3{}))
	}
	w.Flush()
}

// exportSnapshot выгружает хранилище в файл снимка
func exportSnapshot(dbPath, file string) error {
	store, err := storage.NewFacingsStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := os.Create(file)
	if err != nil {
		return err
	}

	n, err := store.Export(context.Background(), out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("exported %d positions to %s\n", n, file)
	return nil
}

// importSnapshot загружает снимок прямо в хранилище. Кеши и подписчики
// работающих узлов об этом не узнают: на живом кластере используйте POST /api/snapshot.
func importSnapshot(dbPath, file string) error {
	in, err := os.Open(file)
	if err != nil {
		return err
	}
	defer in.Close()

	store, err := storage.NewFacingsStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Import(context.Background(), in)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d positions from %s\n", n, file)
	return nil
}
