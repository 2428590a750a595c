package vm

import (
	"database/sql"
	"fmt"
	"time"

	"loxvm/internal/plugin"
	"loxvm/internal/value"
)

// defineNatives installs the host functions exposed to Lox scripts:
// timing, plugin loading, and a small SQLite surface.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", 0, vm.nativeClock)
	vm.defineNative("loadPlugin", 2, vm.nativeLoadPlugin)
	vm.defineNative("sqlOpen", 1, vm.nativeSqlOpen)
	vm.defineNative("sqlExec", 2, vm.nativeSqlExec)
	vm.defineNative("sqlQuery", 2, vm.nativeSqlQuery)
	vm.defineNative("sqlClose", 1, vm.nativeSqlClose)
}

func (vm *VM) defineNative(name string, arity int, fn value.NativeFunc) {
	vm.globals[name] = value.Obj(&value.ObjNative{Name: name, Arity: arity, Fn: fn})
}

// clock() returns milliseconds since the Unix epoch, giving benchmark
// scripts sub-second granularity without needing a duration type.
func (vm *VM) nativeClock(args []value.Value) (value.Value, error) {
	return value.Number(float64(time.Now().UnixMilli())), nil
}

// loadPlugin(name, path) starts (or reuses) a subprocess plugin and
// returns a native function bound to that plugin's RPC "generate"
// convention; calling the returned value forwards its arguments as
// PluginRequest.Params.
func (vm *VM) nativeLoadPlugin(args []value.Value) (value.Value, error) {
	if !args[0].IsString() || !args[1].IsString() {
		return value.Value{}, fmt.Errorf("loadPlugin expects (name, path) strings.")
	}
	name := args[0].AsString()
	path := args[1].AsString()

	client, err := plugin.LoadPlugin(name, path)
	if err != nil {
		return value.Value{}, fmt.Errorf("loadPlugin: %v", err)
	}

	caller := &value.ObjNative{
		Name:  name,
		Arity: -1,
		Fn: func(callArgs []value.Value) (value.Value, error) {
			return client.Call("generate", callArgs), nil
		},
	}
	return value.Obj(caller), nil
}

func (vm *VM) lookupDB(v value.Value) (*sql.DB, error) {
	if v.Type != value.VAL_NUMBER {
		return nil, fmt.Errorf("expected a database handle.")
	}
	db, ok := vm.dbHandles[int(v.AsNumber)]
	if !ok {
		return nil, fmt.Errorf("no open database for handle %v.", v.AsNumber)
	}
	return db, nil
}

// sqlOpen(path) opens a sqlite database at path and returns an opaque
// numeric handle. modernc.org/sqlite is a pure-Go driver, so this needs
// no cgo toolchain the way mattn/go-sqlite3 would.
func (vm *VM) nativeSqlOpen(args []value.Value) (value.Value, error) {
	if !args[0].IsString() {
		return value.Value{}, fmt.Errorf("sqlOpen expects a path string.")
	}
	db, err := sql.Open("sqlite", args[0].AsString())
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlOpen: %v", err)
	}
	if err := db.Ping(); err != nil {
		return value.Value{}, fmt.Errorf("sqlOpen: %v", err)
	}

	id := vm.nextDbID
	vm.nextDbID++
	vm.dbHandles[id] = db
	return value.Number(float64(id)), nil
}

// sqlExec(handle, sql) runs a statement with no expected result set and
// returns the number of rows it affected.
func (vm *VM) nativeSqlExec(args []value.Value) (value.Value, error) {
	db, err := vm.lookupDB(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !args[1].IsString() {
		return value.Value{}, fmt.Errorf("sqlExec expects a SQL string.")
	}
	result, err := db.Exec(args[1].AsString())
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlExec: %v", err)
	}
	affected, _ := result.RowsAffected()
	return value.Number(float64(affected)), nil
}

// sqlQuery(handle, sql) runs a query and returns the number of rows it
// produced. Streaming full result sets into Lox values is out of scope
// since Lox has no array/map literal to hold them in.
func (vm *VM) nativeSqlQuery(args []value.Value) (value.Value, error) {
	db, err := vm.lookupDB(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !args[1].IsString() {
		return value.Value{}, fmt.Errorf("sqlQuery expects a SQL string.")
	}
	rows, err := db.Query(args[1].AsString())
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlQuery: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return value.Value{}, fmt.Errorf("sqlQuery: %v", err)
	}
	return value.Number(float64(count)), nil
}

func (vm *VM) nativeSqlClose(args []value.Value) (value.Value, error) {
	if args[0].Type != value.VAL_NUMBER {
		return value.Value{}, fmt.Errorf("sqlClose expects a database handle.")
	}
	id := int(args[0].AsNumber)
	if db, ok := vm.dbHandles[id]; ok {
		db.Close()
		delete(vm.dbHandles, id)
	}
	return value.Nil(), nil
}
