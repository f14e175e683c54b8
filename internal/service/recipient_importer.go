// internal/service/recipient_importer.go
package service

import (
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "path/filepath"
    "strings"

    "github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported file format, expected .xlsx or .csv")

// Header aliases for the fixed recipient columns. Any other column becomes a
// template variable named after its header.
var importColumns = map[string]string{
    "phone":      "phone",
    "telefone":   "phone",
    "number":     "phone",
    "message":    "message",
    "mensagem":   "message",
    "media_url":  "media_url",
    "media":      "media_url",
    "media_type": "media_type",
}

// RecipientImporter turns a spreadsheet upload into loader input.
type RecipientImporter struct{}

func (RecipientImporter) Parse(filename string, r io.Reader) ([]RecipientInput, error) {
    var rows [][]string
    var err error
    switch strings.ToLower(filepath.Ext(filename)) {
    case ".xlsx":
        rows, err = readXLSX(r)
    case ".csv":
        rows, err = readCSV(r)
    default:
        return nil, ErrUnsupportedFormat
    }
    if err != nil {
        return nil, err
    }
    return recipientsFromRows(rows)
}

func readXLSX(r io.Reader) ([][]string, error) {
    f, err := excelize.OpenReader(r)
    if err != nil {
        return nil, fmt.Errorf("open workbook: %w", err)
    }
    defer f.Close()

    sheet := f.GetSheetName(0)
    if sheet == "" {
        return nil, errors.New("workbook has no sheets")
    }
    return f.GetRows(sheet)
}

func readCSV(r io.Reader) ([][]string, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = -1
    cr.TrimLeadingSpace = true
    return cr.ReadAll()
}

func recipientsFromRows(rows [][]string) ([]RecipientInput, error) {
    if len(rows) == 0 {
        return nil, errors.New("file is empty")
    }

    header := make([]string, len(rows[0]))
    hasPhone := false
    for i, h := range rows[0] {
        h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
        header[i] = h
        if importColumns[h] == "phone" {
            hasPhone = true
        }
    }
    if !hasPhone {
        return nil, errors.New("missing phone column")
    }

    out := []RecipientInput{}
    for _, row := range rows[1:] {
        var in RecipientInput
        blank := true
        for i, cell := range row {
            if i >= len(header) || header[i] == "" {
                continue
            }
            cell = strings.TrimSpace(cell)
            if cell != "" {
                blank = false
            }
            switch importColumns[header[i]] {
            case "phone":
                in.Phone = cell
            case "message":
                in.Message = cell
            case "media_url":
                in.MediaURL = cell
            case "media_type":
                in.MediaType = strings.ToLower(cell)
            default:
                if in.Variables == nil {
                    in.Variables = map[string]string{}
                }
                in.Variables[header[i]] = cell
            }
        }
        if blank {
            continue
        }
        out = append(out, in)
    }
    return out, nil
}
