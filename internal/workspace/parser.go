package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// document is the accepted top-level shape. A saved workspace carries a
// single "target"; a bare {"blocks": ...} object and a project with a
// "targets" array are accepted as well.
type document struct {
	Target   *target   `json:"target"`
	Targets  []target  `json:"targets"`
	Blocks   blockMap  `json:"blocks"`
	Comments rawObject `json:"comments"`
}

type target struct {
	Blocks   blockMap  `json:"blocks"`
	Comments rawObject `json:"comments"`
}

type blockMap map[string]json.RawMessage

type rawObject map[string]json.RawMessage

type rawBlock struct {
	Opcode   string                     `json:"opcode"`
	Next     *string                    `json:"next"`
	Parent   *string                    `json:"parent"`
	Inputs   map[string]json.RawMessage `json:"inputs"`
	Fields   map[string]json.RawMessage `json:"fields"`
	Shadow   bool                       `json:"shadow"`
	TopLevel bool                       `json:"topLevel"`
	Mutation *rawMutation               `json:"mutation"`
}

type rawMutation struct {
	ProcCode      string          `json:"proccode"`
	ArgumentIDs   json.RawMessage `json:"argumentids"`
	ArgumentNames json.RawMessage `json:"argumentnames"`
}

// Parse builds a tab from a workspace document.
//
// Links are resolved by ID, so the order of entries in the document does not
// matter; a block referenced before it is defined gets a placeholder that the
// later entry fills in. Null and non-object entries are skipped. An empty
// document yields an empty tab.
//
// Returns ErrInvalidDocument when the content is not a workspace document.
func Parse(id, name string, content []byte) (*Tab, error) {
	var doc document
	if len(bytes.TrimSpace(content)) == 0 {
		return newTab(id, name), nil
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	blocks, comments := doc.Blocks, doc.Comments
	switch {
	case doc.Target != nil:
		blocks, comments = doc.Target.Blocks, doc.Target.Comments
	case len(doc.Targets) > 0:
		blocks, comments = doc.Targets[0].Blocks, doc.Targets[0].Comments
		for _, t := range doc.Targets {
			if len(t.Blocks) > 0 {
				blocks, comments = t.Blocks, t.Comments
				break
			}
		}
	}

	tab := newTab(id, name)
	tab.comments = len(comments)

	p := parser{tab: tab}
	for blockID, raw := range blocks {
		if err := p.parseBlock(blockID, raw); err != nil {
			return nil, err
		}
	}
	return tab, nil
}

type parser struct {
	tab *Tab
}

// block returns the block with id, creating a placeholder if needed.
func (p *parser) block(id string) *Block {
	if b, ok := p.tab.blocks[id]; ok {
		return b
	}
	b := newBlock(id, p.tab)
	p.tab.blocks[id] = b
	return b
}

func (p *parser) parseBlock(id string, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var rb rawBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return fmt.Errorf("%w: block %s: %v", ErrInvalidDocument, id, err)
	}

	b := p.block(id)
	b.Shadow = rb.Shadow
	b.TopLevel = rb.TopLevel
	b.setOpcode(rb.Opcode)

	if rb.Parent != nil && *rb.Parent != "" {
		b.ParentID = p.block(*rb.Parent).ID
	}
	if rb.Next != nil && *rb.Next != "" {
		b.NextID = p.block(*rb.Next).ID
	}

	for fieldName, fieldRaw := range rb.Fields {
		f, err := decodeField(fieldRaw)
		if err != nil {
			return fmt.Errorf("block %s field %s: %w", id, fieldName, err)
		}
		b.Fields[fieldName] = f
	}

	for inputName, inputRaw := range rb.Inputs {
		in, err := decodeInput(inputRaw)
		if err != nil {
			b.Inputs[inputName] = MalformedInput{Err: fmt.Errorf("input %s: %w", inputName, err)}
			continue
		}
		b.Inputs[inputName] = in
		p.reference(in)
	}

	if rb.Mutation != nil && rb.Mutation.ProcCode != "" {
		b.ProcedureCode = rb.Mutation.ProcCode
		ids, err := decodeStringList(rb.Mutation.ArgumentIDs)
		if err != nil {
			return fmt.Errorf("%w: block %s argumentids: %v", ErrInvalidDocument, id, err)
		}
		names, err := decodeStringList(rb.Mutation.ArgumentNames)
		if err != nil {
			return fmt.Errorf("%w: block %s argumentnames: %v", ErrInvalidDocument, id, err)
		}
		b.ProcedureArgumentIDs = ids
		b.ProcedureArgumentNames = names
	}
	return nil
}

// reference creates placeholders for blocks an input points at, so every
// reference resolves within the tab.
func (p *parser) reference(in Input) {
	if bi, ok := in.(BlockInput); ok {
		if bi.BlockID != "" {
			p.block(bi.BlockID)
		}
		if bi.ShadowBlockID != "" {
			p.block(bi.ShadowBlockID)
		}
	}
}

// decodeStringList accepts a JSON array of strings or a string holding one,
// which is how procedure mutations are serialized.
func decodeStringList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if isJSONNull(raw) {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		if encoded == "" {
			return nil, nil
		}
		raw = json.RawMessage(encoded)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
