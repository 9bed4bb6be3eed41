// Пакет mimeparser: потоковый разбор multipart/form-data.
//
// Части с disposition name="file" пишутся прямо на диск блоками по
// ChunkSize байт и в памяти целиком не держатся. Остальные части
// возвращаются вызывающему вместе с заголовками.
//
// Автомат состояний: HEADERS → BODY | FILE, возврат в HEADERS на каждой
// границе, завершение на закрывающей границе (--boundary--).
//
// Парсер одноразовый: повторный Parse возвращает ErrAlreadyParsed.
package mimeparser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/cura-connect/internal/storage/filestore"
)

// ChunkSize: размер блока чтения файловой части.
const ChunkSize = 1024

// Пределы для частей, которые держатся в памяти.
const (
	maxHeaderBytes = 16 << 10
	maxBodyBytes   = 1 << 20
)

// FileFieldName: имя поля, содержимое которого пишется на диск.
const FileFieldName = "file"

var (
	// ErrMalformedHeader: заголовки части не разбираются или неполны.
	ErrMalformedHeader = errors.New("некорректные заголовки части")
	// ErrMissingBoundary: поток закончился до закрывающей границы.
	ErrMissingBoundary = errors.New("не найдена закрывающая граница multipart")
	// ErrPartTooLarge: нефайловая часть превышает предел.
	ErrPartTooLarge = errors.New("часть multipart слишком велика")
	// ErrAlreadyParsed: парсер уже использован.
	ErrAlreadyParsed = errors.New("парсер уже использован")
)

type state int

const (
	statePreamble state = iota
	stateHeaders
	stateBody
	stateFile
)

// Part: нефайловая часть сообщения.
type Part struct {
	Header   textproto.MIMEHeader
	Name     string
	Filename string
	Body     []byte
}

// Result: результат разбора.
type Result struct {
	// Parts: нефайловые части в порядке следования
	Parts []Part
	// Files: пути записанных файлов в порядке следования
	Files []string
	// Declared: имена файлов из заголовков, параллельно Files
	Declared []string
}

// Value возвращает тело первой нефайловой части с именем name.
func (r *Result) Value(name string) (string, bool) {
	for _, p := range r.Parts {
		if p.Name == name {
			return string(p.Body), true
		}
	}
	return "", false
}

// Option настраивает Parser.
type Option func(*Parser)

// WithOverwrite: при false существующие файлы не перезаписываются,
// а получают имя с индексом (name-1.ext, name-2.ext, ...).
func WithOverwrite(overwrite bool) Option {
	return func(p *Parser) {
		p.overwrite = overwrite
	}
}

// WithTarget задаёт функцию выбора итогового пути по объявленному имени
// файла. Имеет приоритет над outDir и WithOverwrite.
func WithTarget(fn func(filename string) string) Option {
	return func(p *Parser) {
		p.target = fn
	}
}

// Parser: одноразовый разборщик одного multipart-тела.
type Parser struct {
	src       *bufio.Reader
	pending   []byte // прочитанные, но ещё не разобранные байты
	boundary  []byte // "--" + boundary
	delim     []byte // "\n--" + boundary
	outDir    string
	overwrite bool
	target    func(string) string

	used     bool
	state    state
	headers  []byte
	body     []byte
	cur      int // индекс текущей нефайловой части в parts, -1 если нет
	parts    []Part
	files    []string
	declared []string
}

// New создаёт парсер тела r с границей boundary.
// length: объявленная длина тела (Content-Length), отрицательное значение
// означает «читать до EOF». Файловые части пишутся в outDir.
func New(r io.Reader, boundary string, length int64, outDir string, opts ...Option) *Parser {
	if length >= 0 {
		r = io.LimitReader(r, length)
	}

	p := &Parser{
		src:       bufio.NewReader(r),
		boundary:  []byte("--" + boundary),
		delim:     []byte("\n--" + boundary),
		outDir:    outDir,
		overwrite: true,
		cur:       -1,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.target == nil {
		namer := filestore.NewUniqueNamer()
		p.target = func(filename string) string {
			path := filepath.Join(p.outDir, filename)
			if p.overwrite {
				return path
			}
			return namer.Next(path)
		}
	}
	return p
}

// Parse разбирает тело целиком.
// При ошибке уже записанные файлы удаляются.
func (p *Parser) Parse() (*Result, error) {
	if p.used {
		return nil, ErrAlreadyParsed
	}
	p.used = true

	for {
		line, err := p.readLine()
		if err != nil {
			p.discardFiles()
			return nil, err
		}

		done, err := p.parseLine(line)
		if err != nil {
			p.discardFiles()
			return nil, err
		}
		if done {
			return &Result{Parts: p.parts, Files: p.files, Declared: p.declared}, nil
		}
	}
}

// parseLine обрабатывает одну строку. done == true на закрывающей границе.
func (p *Parser) parseLine(line []byte) (bool, error) {
	if closing, ok := p.boundaryLine(line); ok {
		if p.state == stateHeaders && len(p.headers) > 0 {
			return false, fmt.Errorf("%w: заголовки части не завершены", ErrMalformedHeader)
		}
		p.finishPart()
		if closing {
			return true, nil
		}
		p.state = stateHeaders
		return false, nil
	}

	switch p.state {
	case stateHeaders:
		if isBlank(line) {
			return false, p.startPart()
		}
		p.headers = append(p.headers, line...)
		if len(p.headers) > maxHeaderBytes {
			return false, fmt.Errorf("%w: заголовки длиннее %d байт", ErrMalformedHeader, maxHeaderBytes)
		}
	case stateBody:
		if p.cur < 0 {
			return false, nil
		}
		p.body = append(p.body, line...)
		if len(p.body) > maxBodyBytes {
			return false, fmt.Errorf("%w: поле %q", ErrPartTooLarge, p.parts[p.cur].Name)
		}
	}
	// statePreamble: всё до первой границы игнорируется
	return false, nil
}

// boundaryLine проверяет, является ли строка границей.
// closing == true для закрывающей границы.
func (p *Parser) boundaryLine(line []byte) (closing, ok bool) {
	if !bytes.HasPrefix(line, p.boundary) {
		return false, false
	}
	rest := bytes.TrimRight(line[len(p.boundary):], " \t\r\n")
	switch {
	case len(rest) == 0:
		return false, true
	case bytes.Equal(rest, []byte("--")):
		return true, true
	default:
		return false, false
	}
}

// finishPart сохраняет тело текущей нефайловой части без завершающего
// перевода строки.
func (p *Parser) finishPart() {
	if p.state == stateBody && p.cur >= 0 {
		p.parts[p.cur].Body = trimTerminator(p.body)
	}
	p.body = nil
	p.cur = -1
}

// startPart разбирает накопленные заголовки и начинает тело части.
func (p *Parser) startPart() error {
	raw := append(p.headers, '\r', '\n')
	p.headers = nil

	hdr, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw))).ReadMIMEHeader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	disposition := hdr.Get("Content-Disposition")
	if disposition == "" {
		return fmt.Errorf("%w: нет Content-Disposition", ErrMalformedHeader)
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fmt.Errorf("%w: Content-Disposition: %v", ErrMalformedHeader, err)
	}

	part := Part{
		Header:   hdr,
		Name:     params["name"],
		Filename: params["filename"],
	}

	if part.Name != FileFieldName {
		p.parts = append(p.parts, part)
		p.cur = len(p.parts) - 1
		p.body = nil
		p.state = stateBody
		return nil
	}

	filename := filepath.Base(part.Filename)
	if part.Filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		return fmt.Errorf("%w: пустое имя файла", ErrMalformedHeader)
	}

	p.state = stateFile
	path := p.target(filename)
	if err := p.writeFile(path); err != nil {
		return err
	}
	p.files = append(p.files, path)
	p.declared = append(p.declared, filename)

	// До следующей границы больше ничего нет
	p.state = stateBody
	p.cur = -1
	return nil
}

// writeFile пишет содержимое файловой части в <path>.part и переименовывает
// в path. Чтение идёт блоками через скользящий буфер: хвост длиной
// с разделитель остаётся в буфере, поэтому граница, разрезанная между
// блоками, всё равно находится. Байты после разделителя возвращаются
// в p.pending для построчного разбора.
func (p *Parser) writeFile(path string) error {
	pf, err := filestore.CreatePart(path)
	if err != nil {
		return err
	}

	// Перевод строки перед первой границей уже съеден пустой строкой
	// заголовков. Синтетический '\n' позволяет найти границу сразу
	// после заголовков (пустой файл); на диск он не пишется.
	buf := make([]byte, 0, 2*ChunkSize+len(p.delim))
	buf = append(buf, '\n')
	skip := 1

	chunk := make([]byte, ChunkSize)
	eof := false

	for {
		i, res := p.scan(buf, eof)
		switch res {
		case scanFound:
			end := i
			if end > 0 && buf[end-1] == '\r' {
				end--
			}
			if err := emit(pf, buf[:end], &skip); err != nil {
				pf.Abort()
				return fmt.Errorf("ошибка записи %s: %w", filepath.Base(path), err)
			}
			// Остаток начинается с "--boundary"
			rest := append([]byte(nil), buf[i+1:]...)
			p.pending = append(rest, p.pending...)
			return pf.Commit()

		case scanNeedMore:
			// Кандидат в конце буфера: сохраняем его вместе с возможным '\r'
			if keep := i - 1; keep > 0 {
				if err := emit(pf, buf[:keep], &skip); err != nil {
					pf.Abort()
					return fmt.Errorf("ошибка записи %s: %w", filepath.Base(path), err)
				}
				buf = buf[:copy(buf, buf[keep:])]
			}

		case scanNotFound:
			if eof {
				pf.Abort()
				return fmt.Errorf("%w: файл %s не завершён", ErrMissingBoundary, filepath.Base(path))
			}
			if keep := len(buf) - len(p.delim); keep > 0 {
				if err := emit(pf, buf[:keep], &skip); err != nil {
					pf.Abort()
					return fmt.Errorf("ошибка записи %s: %w", filepath.Base(path), err)
				}
				buf = buf[:copy(buf, buf[keep:])]
			}
		}

		n, err := p.readChunk(chunk)
		buf = append(buf, chunk[:n]...)
		if err == io.EOF {
			eof = true
		} else if err != nil {
			pf.Abort()
			return fmt.Errorf("ошибка чтения тела: %w", err)
		}
	}
}

type scanResult int

const (
	scanNotFound scanResult = iota
	scanFound
	scanNeedMore
)

// scan ищет в buf первый разделитель "\n--boundary", за которым следует
// "--", пробел или конец строки. Кандидат с другим продолжением
// считается частью содержимого.
func (p *Parser) scan(buf []byte, eof bool) (int, scanResult) {
	from := 0
	for {
		j := bytes.Index(buf[from:], p.delim)
		if j < 0 {
			return 0, scanNotFound
		}
		i := from + j
		after := buf[i+len(p.delim):]

		switch {
		case len(after) == 0, after[0] == '-' && len(after) < 2:
			if !eof {
				return i, scanNeedMore
			}
			if len(after) == 0 {
				return i, scanFound
			}
		case after[0] == '-' && after[1] == '-',
			after[0] == '\r', after[0] == '\n', after[0] == ' ', after[0] == '\t':
			return i, scanFound
		}
		from = i + 1
	}
}

// emit пишет b, пропуская первые *skip байт.
func emit(w io.Writer, b []byte, skip *int) error {
	if *skip > 0 {
		if len(b) <= *skip {
			*skip -= len(b)
			return nil
		}
		b = b[*skip:]
		*skip = 0
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// readLine возвращает следующую строку вместе с '\n'.
// Последняя строка без '\n' возвращается как есть.
func (p *Parser) readLine() ([]byte, error) {
	if i := bytes.IndexByte(p.pending, '\n'); i >= 0 {
		line := p.pending[:i+1]
		p.pending = p.pending[i+1:]
		return line, nil
	}

	rest, err := p.src.ReadBytes('\n')
	line := make([]byte, 0, len(p.pending)+len(rest))
	line = append(line, p.pending...)
	line = append(line, rest...)
	p.pending = nil

	if err != nil {
		if err == io.EOF {
			if len(line) > 0 {
				return line, nil
			}
			return nil, ErrMissingBoundary
		}
		return nil, fmt.Errorf("ошибка чтения тела: %w", err)
	}
	return line, nil
}

// readChunk читает до len(chunk) байт, сначала из p.pending.
func (p *Parser) readChunk(chunk []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(chunk, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	return p.src.Read(chunk)
}

// discardFiles удаляет файлы, записанные до ошибки.
func (p *Parser) discardFiles() {
	for _, f := range p.files {
		os.Remove(f)
	}
	p.files = nil
	p.declared = nil
}

func isBlank(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

// trimTerminator убирает ровно один завершающий перевод строки.
func trimTerminator(b []byte) []byte {
	switch {
	case bytes.HasSuffix(b, []byte("\r\n")):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n")):
		return b[:len(b)-1]
	default:
		return b
	}
}
