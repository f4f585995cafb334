package kaltura

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var dataContentPattern = regexp.MustCompile(`(?s)<dataContent>.*?</dataContent>`)

// Node 通用的 XML 节点
type Node struct {
	Name     string
	Text     string
	Children []*Node
}

// Child 返回第一个名为 name 的子节点
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Path 按层级查找子节点
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value 返回子节点 name 的文本
func (n *Node) Value(name string) string {
	c := n.Child(name)
	if c == nil {
		return ""
	}
	return c.Text
}

// Int 返回子节点 name 的整数值，缺失或非法时为 0
func (n *Node) Int(name string) int64 {
	v, err := strconv.ParseInt(n.Value(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Items 返回 <objects> 等列表节点下的 <item>
func (n *Node) Items() []*Node {
	if n == nil {
		return nil
	}
	items := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Name == "item" {
			items = append(items, c)
		}
	}
	return items
}

// parseXML 将文档解析为节点树
func parseXML(data []byte) (*Node, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false

	root := &Node{}
	stack := []*Node{root}
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top := stack[len(stack)-1]
			top.Text += string(t)
		}
	}

	trimText(root)

	if len(root.Children) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root.Children[0], nil
}

func trimText(n *Node) {
	n.Text = strings.TrimSpace(n.Text)
	for _, c := range n.Children {
		trimText(c)
	}
}

// decodeResult 剥离 <dataContent> 后解析响应，返回 <result> 节点。
// 服务端错误返回 *APIError，格式问题返回 *ClientError。
func decodeResult(body []byte) (*Node, error) {
	cleaned := dataContentPattern.ReplaceAll(body, nil)

	doc, err := parseXML(cleaned)
	if err != nil {
		return nil, &ClientError{Code: ErrCodeInvalidXML, Message: "invalid xml response", Err: err}
	}

	result := doc.Child("result")
	if result == nil {
		return nil, &ClientError{Code: ErrCodeResultNotFound, Message: "result node not found"}
	}

	if e := result.Child("error"); e != nil {
		return nil, &APIError{
			Code:       e.Value("code"),
			Message:    e.Value("message"),
			ObjectType: e.Value("objectType"),
		}
	}
	return result, nil
}
