package models

import (
	"errors"
	"strconv"
)

// ErrInvalidCell is returned when a cell code cannot be decoded
var ErrInvalidCell = errors.New("invalid cell code")

// maxSide bounds the row letter to the alphabet
const maxSide = 26

// EncodeCell encodes a board coordinate as a row letter followed by a
// 1-based column number: row 0, col 2 is "a3".
func EncodeCell(row, col int) string {
	return string(rune('a'+row)) + strconv.Itoa(col+1)
}

// DecodeCell is the inverse of EncodeCell
func DecodeCell(code string) (row, col int, err error) {
	if len(code) < 2 {
		return 0, 0, ErrInvalidCell
	}
	row = int(code[0]) - 'a'
	if row < 0 || row >= maxSide {
		return 0, 0, ErrInvalidCell
	}
	digits := code[1:]
	if digits[0] == '0' {
		return 0, 0, ErrInvalidCell
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, 0, ErrInvalidCell
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, 0, ErrInvalidCell
	}
	return row, n - 1, nil
}

// DecodeCellIn decodes code and checks it addresses a board of the given side
func DecodeCellIn(code string, size int) (row, col int, err error) {
	row, col, err = DecodeCell(code)
	if err != nil {
		return 0, 0, err
	}
	if row >= size || col >= size {
		return 0, 0, ErrInvalidCell
	}
	return row, col, nil
}
