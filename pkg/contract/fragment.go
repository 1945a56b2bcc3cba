package contract

// JoinPolicy: 片段与相邻片段的粘连约束。
type JoinPolicy int

const (
	// Regular: 无约束。
	Regular JoinPolicy = iota
	// JoinBefore: 必须与前一个片段处于同一 chunk。
	JoinBefore
	// JoinAfter: 必须与后一个片段处于同一 chunk。
	JoinAfter
)

func (p JoinPolicy) String() string {
	switch p {
	case JoinBefore:
		return "join_before"
	case JoinAfter:
		return "join_after"
	default:
		return "regular"
	}
}

// Fragment: 已转义的标记片段。
// 控制标记（break/emphasis）Length 为 0；文本片段 Length 为字符数。
type Fragment struct {
	Length int
	Join   JoinPolicy
	Text   string
}
