package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// LogDir: 默认日志目录。
const LogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON，写入轮转文件；sink 不可用时回落到 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	out    io.Writer // 非空时优先于 sink（测试/管道场景）
	mu     sync.Mutex
}

// NewLogger 按 level 初始化，写入 logs/ssmlaudio.jsonl，10MiB 轮转、保留 5 份。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerAt(corrID, level, LogDir)
}

// NewLoggerAt 指定日志目录；轮转采用 RotateOptions 默认值。
func NewLoggerAt(corrID, level, dir string) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: NewRotatingFile(dir, RotateOptions{})}
}

// NewLoggerTo 写入给定 Writer（不轮转）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), out: w}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|error|info
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Doc    string            `json:"doc,omitempty"`
	Hash   string            `json:"hash,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		_, _ = l.out.Write(append(b, '\n'))
		return
	}
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Close 关闭轮转文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 doc/hash 的 start。
func (l *Logger) StartWith(comp, msg, doc, hash string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Doc: doc, Hash: hash, Msg: msg})
	return &Timer{l: l, comp: comp, doc: doc, hash: hash, t0: time.Now()}
}

// StartWithKV 记录带 doc/hash 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, doc, hash string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Doc: doc, Hash: hash, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, doc: doc, hash: hash, t0: time.Now()}
}

// Info 记录一次性 info 事件。
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "info", Msg: msg, KV: kv})
}

// Warn 记录可恢复的异常（例如清理失败）。
func (l *Logger) Warn(comp, code, msg, doc, hash string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Doc: doc, Hash: hash, Msg: msg})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 doc/hash。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, doc, hash string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, Doc: doc, Hash: hash})
}

// ErrorWithKV 支持附带键值对（例如上游状态码、stderr 片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, doc, hash string, kv map[string]string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, Doc: doc, Hash: hash, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 事件（仅 level=debug 生效）。
func (l *Logger) DebugStart(comp, msg, doc, hash string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Doc: doc, Hash: hash, Msg: msg, KV: kv})
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	doc  string
	hash string
	t0   time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Doc: t.doc, Hash: t.hash, Msg: msg})
}
