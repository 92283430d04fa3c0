// Package awstest provides in-memory stand-ins for the AWS clients used by the
// stores. Only the expression forms the stores actually write are understood.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type item = map[string]types.AttributeValue

// Dynamo is a map-backed DynamoDB fake. Each table has a single string
// partition key whose attribute name is given at construction.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item

	// Err, when set, is returned by every call.
	Err error
	// FailOn lets a test fail calls for a given partition key value.
	FailOn map[string]error

	Calls map[string]int
}

// NewDynamo creates a fake with tables mapped to their key attribute.
func NewDynamo(keys map[string]string) *Dynamo {
	d := &Dynamo{
		keys:   keys,
		tables: map[string]map[string]item{},
		Calls:  map[string]int{},
	}
	for t := range keys {
		d.tables[t] = map[string]item{}
	}
	return d
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Seed stores an item directly.
func (d *Dynamo) Seed(table string, it map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pk, err := d.pkOf(table, it)
	if err != nil {
		panic(err)
	}
	d.tables[table][pk] = clone(it)
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["PutItem"]++
	if d.Err != nil {
		return nil, d.Err
	}
	table := *in.TableName
	pk, err := d.pkOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	if err := d.failure(pk); err != nil {
		return nil, err
	}
	if !d.holds(d.tables[table][pk], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional request failed")}
	}
	d.tables[table][pk] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["GetItem"]++
	if d.Err != nil {
		return nil, d.Err
	}
	pk, err := keyValue(in.Key)
	if err != nil {
		return nil, err
	}
	if err := d.failure(pk); err != nil {
		return nil, err
	}
	it, ok := d.tables[*in.TableName][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["DeleteItem"]++
	if d.Err != nil {
		return nil, d.Err
	}
	pk, err := keyValue(in.Key)
	if err != nil {
		return nil, err
	}
	if err := d.failure(pk); err != nil {
		return nil, err
	}
	table := *in.TableName
	if !d.holds(d.tables[table][pk], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional request failed")}
	}
	delete(d.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["UpdateItem"]++
	if d.Err != nil {
		return nil, d.Err
	}
	pk, err := keyValue(in.Key)
	if err != nil {
		return nil, err
	}
	if err := d.failure(pk); err != nil {
		return nil, err
	}
	table := *in.TableName
	current := d.tables[table][pk]
	if !d.holds(current, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional request failed")}
	}
	next := clone(current)
	if next == nil {
		next = clone(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applySet(next, *in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	d.tables[table][pk] = next
	return &dyn.UpdateItemOutput{Attributes: clone(next)}, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["Scan"]++
	if d.Err != nil {
		return nil, d.Err
	}
	tbl := d.tables[*in.TableName]
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// one item per page so callers exercise pagination
	start := 0
	if in.ExclusiveStartKey != nil {
		last, err := keyValue(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, last)
		if start < len(keys) && keys[start] == last {
			start++
		}
	}
	out := &dyn.ScanOutput{}
	for i := start; i < len(keys); i++ {
		it := tbl[keys[i]]
		if d.holds(it, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			out.Items = append(out.Items, clone(it))
		}
		if i+1 < len(keys) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				d.keys[*in.TableName]: &types.AttributeValueMemberS{Value: keys[i]},
			}
		}
		break
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["TransactWriteItems"]++
	if d.Err != nil {
		return nil, d.Err
	}
	for _, ti := range in.TransactItems {
		p := ti.Put
		if p == nil {
			return nil, errors.New("awstest: only Put is supported in transactions")
		}
		pk, err := d.pkOf(*p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		if !d.holds(d.tables[*p.TableName][pk], p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			return nil, &types.TransactionCanceledException{Message: strPtr("transaction cancelled")}
		}
	}
	for _, ti := range in.TransactItems {
		pk, _ := d.pkOf(*ti.Put.TableName, ti.Put.Item)
		d.tables[*ti.Put.TableName][pk] = clone(ti.Put.Item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) failure(pk string) error {
	if d.FailOn == nil {
		return nil
	}
	return d.FailOn[pk]
}

func (d *Dynamo) pkOf(table string, it item) (string, error) {
	name, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: unknown table %q", table)
	}
	v, ok := it[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item has no %s", name)
	}
	if _, ok := d.tables[table]; !ok {
		d.tables[table] = map[string]item{}
	}
	return v.Value, nil
}

// holds evaluates the condition forms used by the stores:
// attribute_exists(a), attribute_not_exists(a) and a = :v, joined by AND.
func (d *Dynamo) holds(current item, expr *string, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil || *expr == "" {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_exists("):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if _, ok := current[name]; !ok {
				return false
			}
		case strings.HasPrefix(clause, "attribute_not_exists("):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if _, ok := current[name]; ok {
				return false
			}
		default:
			parts := strings.SplitN(clause, "=", 2)
			if len(parts) != 2 {
				return false
			}
			name := resolve(strings.TrimSpace(parts[0]), names)
			want := values[strings.TrimSpace(parts[1])]
			got, ok := current[name]
			if !ok || !sameValue(got, want) {
				return false
			}
		}
	}
	return true
}

// applySet understands "SET a = :v, b = b + :d, c = if_not_exists(c, :z) + :d".
func applySet(it item, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("awstest: unsupported update expression %q", expr)
	}
	for _, assign := range splitAssignments(strings.TrimPrefix(expr, "SET ")) {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("awstest: bad assignment %q", assign)
		}
		name := resolve(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])
		if plus := strings.Index(rhs, "+"); plus >= 0 {
			base := strings.TrimSpace(rhs[:plus])
			inc := values[strings.TrimSpace(rhs[plus+1:])]
			var start types.AttributeValue
			if strings.HasPrefix(base, "if_not_exists(") {
				args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(base, "if_not_exists("), ")"), ",")
				start = it[resolve(strings.TrimSpace(args[0]), names)]
				if start == nil {
					start = values[strings.TrimSpace(args[1])]
				}
			} else {
				start = it[resolve(base, names)]
			}
			sum, err := addNumbers(start, inc)
			if err != nil {
				return err
			}
			it[name] = sum
			continue
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("awstest: missing value %s", rhs)
		}
		it[name] = v
	}
	return nil
}

func splitAssignments(s string) []string {
	var out []string
	depth, last := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[last:]))
}

func addNumbers(a, b types.AttributeValue) (types.AttributeValue, error) {
	an, ok := a.(*types.AttributeValueMemberN)
	if !ok {
		return nil, errors.New("awstest: arithmetic on non-number attribute")
	}
	bn, ok := b.(*types.AttributeValueMemberN)
	if !ok {
		return nil, errors.New("awstest: arithmetic with non-number value")
	}
	x, err := decimal.NewFromString(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := decimal.NewFromString(bn.Value)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: x.Add(y).String()}, nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if v, ok := names[name]; ok {
			return v
		}
	}
	return name
}

func sameValue(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}

func keyValue(key map[string]types.AttributeValue) (string, error) {
	if len(key) != 1 {
		return "", errors.New("awstest: composite keys are not supported")
	}
	for _, v := range key {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", errors.New("awstest: key must be a string")
		}
		return s.Value, nil
	}
	return "", errors.New("awstest: empty key")
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
