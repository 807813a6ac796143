package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/klauspost/compress/zstd"
)

// Формат снимка: поток zstd из записей фиксированной длины
// [x int32][y int32][z int32][bits uint8], big-endian.
const snapshotRecordSize = 13

// Export записывает все сохранённые позиции в w; возвращает число записей
func (fs *FacingsStore) Export(ctx context.Context, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("zstd writer: %w", err)
	}

	var record [snapshotRecordSize]byte
	n := 0
	err = fs.ForEach(ctx, func(pos vec.Vec3, facings *block.Facings) error {
		if !fitsInt32(pos) {
			return fmt.Errorf("позиция %s не помещается в int32", pos)
		}
		binary.BigEndian.PutUint32(record[0:4], uint32(int32(pos.X)))
		binary.BigEndian.PutUint32(record[4:8], uint32(int32(pos.Y)))
		binary.BigEndian.PutUint32(record[8:12], uint32(int32(pos.Z)))
		record[12] = facings.Value()

		if _, err := enc.Write(record[:]); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		enc.Close()
		return n, fmt.Errorf("экспорт снимка: %w", err)
	}

	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("экспорт снимка: %w", err)
	}
	return n, nil
}

// SnapshotRecord одна позиция из снимка
type SnapshotRecord struct {
	Pos     vec.Vec3
	Facings *block.Facings
}

// ReadSnapshot декодирует снимок целиком. Повторная позиция заменяет
// предыдущую запись; порядок первых вхождений сохраняется.
func ReadSnapshot(r io.Reader) ([]SnapshotRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var records []SnapshotRecord
	index := make(map[vec.Vec3]int)
	var record [snapshotRecordSize]byte
	for {
		_, err := io.ReadFull(dec, record[:])
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("импорт снимка: обрезанная запись")
		}
		if err != nil {
			return nil, fmt.Errorf("импорт снимка: %w", err)
		}

		rec := SnapshotRecord{
			Pos: vec.Vec3{
				X: int(int32(binary.BigEndian.Uint32(record[0:4]))),
				Y: int(int32(binary.BigEndian.Uint32(record[4:8]))),
				Z: int(int32(binary.BigEndian.Uint32(record[8:12]))),
			},
			Facings: block.FromBits(record[12]),
		}
		if i, ok := index[rec.Pos]; ok {
			records[i] = rec
			continue
		}
		index[rec.Pos] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// Import загружает снимок, созданный Export, напрямую в хранилище;
// существующие позиции перезаписываются. Кеш и подписчики не уведомляются,
// поэтому на работающем узле импорт идёт через сервис.
func (fs *FacingsStore) Import(ctx context.Context, r io.Reader) (int, error) {
	records, err := ReadSnapshot(r)
	if err != nil {
		return 0, err
	}

	items := make(map[string][]byte, len(records))
	for _, rec := range records {
		items[FacingsKey(rec.Pos)] = []byte{rec.Facings.Value()}
	}
	if err := fs.BatchStore(ctx, items); err != nil {
		return 0, fmt.Errorf("импорт снимка: %w", err)
	}
	return len(items), nil
}

func fitsInt32(pos vec.Vec3) bool {
	for _, c := range [3]int{pos.X, pos.Y, pos.Z} {
		if c < math.MinInt32 || c > math.MaxInt32 {
			return false
		}
	}
	return true
}
