package irc

import (
	"bytes"
	"errors"
)

// BufferSize задаёт размер буфера чтения сокета и максимальная длина незавершённой строки.
const BufferSize = 8192

var terminator = []byte{'\r', '\n'}

// ErrFrameTooLong возвращается, когда окно сборки заполнено, а CR LF так и не пришёл.
var ErrFrameTooLong = errors.New("irc: frame exceeds buffer without terminator")

// Framer собирает строки протокола из произвольно нарезанных чтений.
// Не потокобезопасен: им владеет единственный воркер сессии.
type Framer struct {
	buf    []byte
	off    int
	window int
}

// NewFramer создаёт сборщик с окном window байт.
func NewFramer(window int) *Framer {
	if window <= len(terminator) {
		window = BufferSize
	}
	return &Framer{window: window}
}

// Write дописывает прочитанные байты в конец буфера.
func (f *Framer) Write(p []byte) {
	if f.off > 0 && f.off >= len(f.buf)/2 {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	f.buf = append(f.buf, p...)
}

// Next возвращает следующую полную строку без CR LF.
// ok=false означает, что данных пока недостаточно.
func (f *Framer) Next() (frame []byte, ok bool, err error) {
	pending := f.buf[f.off:]
	k := bytes.Index(pending, terminator)
	if k < 0 {
		if len(pending) >= f.window {
			return nil, false, ErrFrameTooLong
		}
		return nil, false, nil
	}

	frame = make([]byte, k)
	copy(frame, pending[:k])
	f.off += k + len(terminator)
	if f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	}
	return frame, true, nil
}

// Buffered возвращает число байт, ожидающих терминатора.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.off
}

// Reset отбрасывает всё накопленное.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.off = 0
}
