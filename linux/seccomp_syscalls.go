//go:build amd64 || arm64

package linux

import "golang.org/x/sys/unix"

// syscallNumbers maps syscall names to numbers for the native architecture.
// Entries here exist on every supported architecture; the rest live in the
// per-architecture files.
var syscallNumbers = map[string]uintptr{
	"read":                    unix.SYS_READ,
	"write":                   unix.SYS_WRITE,
	"close":                   unix.SYS_CLOSE,
	"fstat":                   unix.SYS_FSTAT,
	"lseek":                   unix.SYS_LSEEK,
	"mmap":                    unix.SYS_MMAP,
	"mprotect":                unix.SYS_MPROTECT,
	"munmap":                  unix.SYS_MUNMAP,
	"brk":                     unix.SYS_BRK,
	"rt_sigaction":            unix.SYS_RT_SIGACTION,
	"rt_sigprocmask":          unix.SYS_RT_SIGPROCMASK,
	"rt_sigreturn":            unix.SYS_RT_SIGRETURN,
	"ioctl":                   unix.SYS_IOCTL,
	"pread64":                 unix.SYS_PREAD64,
	"pwrite64":                unix.SYS_PWRITE64,
	"readv":                   unix.SYS_READV,
	"writev":                  unix.SYS_WRITEV,
	"sched_yield":             unix.SYS_SCHED_YIELD,
	"mremap":                  unix.SYS_MREMAP,
	"msync":                   unix.SYS_MSYNC,
	"mincore":                 unix.SYS_MINCORE,
	"madvise":                 unix.SYS_MADVISE,
	"shmget":                  unix.SYS_SHMGET,
	"shmat":                   unix.SYS_SHMAT,
	"shmctl":                  unix.SYS_SHMCTL,
	"dup":                     unix.SYS_DUP,
	"nanosleep":               unix.SYS_NANOSLEEP,
	"getitimer":               unix.SYS_GETITIMER,
	"setitimer":               unix.SYS_SETITIMER,
	"getpid":                  unix.SYS_GETPID,
	"sendfile":                unix.SYS_SENDFILE,
	"socket":                  unix.SYS_SOCKET,
	"connect":                 unix.SYS_CONNECT,
	"accept":                  unix.SYS_ACCEPT,
	"sendto":                  unix.SYS_SENDTO,
	"recvfrom":                unix.SYS_RECVFROM,
	"sendmsg":                 unix.SYS_SENDMSG,
	"recvmsg":                 unix.SYS_RECVMSG,
	"shutdown":                unix.SYS_SHUTDOWN,
	"bind":                    unix.SYS_BIND,
	"listen":                  unix.SYS_LISTEN,
	"getsockname":             unix.SYS_GETSOCKNAME,
	"getpeername":             unix.SYS_GETPEERNAME,
	"socketpair":              unix.SYS_SOCKETPAIR,
	"setsockopt":              unix.SYS_SETSOCKOPT,
	"getsockopt":              unix.SYS_GETSOCKOPT,
	"clone":                   unix.SYS_CLONE,
	"execve":                  unix.SYS_EXECVE,
	"exit":                    unix.SYS_EXIT,
	"wait4":                   unix.SYS_WAIT4,
	"kill":                    unix.SYS_KILL,
	"uname":                   unix.SYS_UNAME,
	"semget":                  unix.SYS_SEMGET,
	"semop":                   unix.SYS_SEMOP,
	"semctl":                  unix.SYS_SEMCTL,
	"shmdt":                   unix.SYS_SHMDT,
	"msgget":                  unix.SYS_MSGGET,
	"msgsnd":                  unix.SYS_MSGSND,
	"msgrcv":                  unix.SYS_MSGRCV,
	"msgctl":                  unix.SYS_MSGCTL,
	"fcntl":                   unix.SYS_FCNTL,
	"flock":                   unix.SYS_FLOCK,
	"fsync":                   unix.SYS_FSYNC,
	"fdatasync":               unix.SYS_FDATASYNC,
	"truncate":                unix.SYS_TRUNCATE,
	"ftruncate":               unix.SYS_FTRUNCATE,
	"getcwd":                  unix.SYS_GETCWD,
	"chdir":                   unix.SYS_CHDIR,
	"fchdir":                  unix.SYS_FCHDIR,
	"fchmod":                  unix.SYS_FCHMOD,
	"fchown":                  unix.SYS_FCHOWN,
	"umask":                   unix.SYS_UMASK,
	"gettimeofday":            unix.SYS_GETTIMEOFDAY,
	"getrlimit":               unix.SYS_GETRLIMIT,
	"getrusage":               unix.SYS_GETRUSAGE,
	"sysinfo":                 unix.SYS_SYSINFO,
	"times":                   unix.SYS_TIMES,
	"ptrace":                  unix.SYS_PTRACE,
	"getuid":                  unix.SYS_GETUID,
	"syslog":                  unix.SYS_SYSLOG,
	"getgid":                  unix.SYS_GETGID,
	"setuid":                  unix.SYS_SETUID,
	"setgid":                  unix.SYS_SETGID,
	"geteuid":                 unix.SYS_GETEUID,
	"getegid":                 unix.SYS_GETEGID,
	"setpgid":                 unix.SYS_SETPGID,
	"getppid":                 unix.SYS_GETPPID,
	"setsid":                  unix.SYS_SETSID,
	"setreuid":                unix.SYS_SETREUID,
	"setregid":                unix.SYS_SETREGID,
	"getgroups":               unix.SYS_GETGROUPS,
	"setgroups":               unix.SYS_SETGROUPS,
	"setresuid":               unix.SYS_SETRESUID,
	"getresuid":               unix.SYS_GETRESUID,
	"setresgid":               unix.SYS_SETRESGID,
	"getresgid":               unix.SYS_GETRESGID,
	"getpgid":                 unix.SYS_GETPGID,
	"setfsuid":                unix.SYS_SETFSUID,
	"setfsgid":                unix.SYS_SETFSGID,
	"getsid":                  unix.SYS_GETSID,
	"capget":                  unix.SYS_CAPGET,
	"capset":                  unix.SYS_CAPSET,
	"rt_sigpending":           unix.SYS_RT_SIGPENDING,
	"rt_sigtimedwait":         unix.SYS_RT_SIGTIMEDWAIT,
	"rt_sigqueueinfo":         unix.SYS_RT_SIGQUEUEINFO,
	"rt_sigsuspend":           unix.SYS_RT_SIGSUSPEND,
	"sigaltstack":             unix.SYS_SIGALTSTACK,
	"personality":             unix.SYS_PERSONALITY,
	"statfs":                  unix.SYS_STATFS,
	"fstatfs":                 unix.SYS_FSTATFS,
	"getpriority":             unix.SYS_GETPRIORITY,
	"setpriority":             unix.SYS_SETPRIORITY,
	"sched_setparam":          unix.SYS_SCHED_SETPARAM,
	"sched_getparam":          unix.SYS_SCHED_GETPARAM,
	"sched_setscheduler":      unix.SYS_SCHED_SETSCHEDULER,
	"sched_getscheduler":      unix.SYS_SCHED_GETSCHEDULER,
	"sched_get_priority_max":  unix.SYS_SCHED_GET_PRIORITY_MAX,
	"sched_get_priority_min":  unix.SYS_SCHED_GET_PRIORITY_MIN,
	"sched_rr_get_interval":   unix.SYS_SCHED_RR_GET_INTERVAL,
	"mlock":                   unix.SYS_MLOCK,
	"munlock":                 unix.SYS_MUNLOCK,
	"mlockall":                unix.SYS_MLOCKALL,
	"munlockall":              unix.SYS_MUNLOCKALL,
	"vhangup":                 unix.SYS_VHANGUP,
	"pivot_root":              unix.SYS_PIVOT_ROOT,
	"prctl":                   unix.SYS_PRCTL,
	"adjtimex":                unix.SYS_ADJTIMEX,
	"setrlimit":               unix.SYS_SETRLIMIT,
	"chroot":                  unix.SYS_CHROOT,
	"sync":                    unix.SYS_SYNC,
	"acct":                    unix.SYS_ACCT,
	"settimeofday":            unix.SYS_SETTIMEOFDAY,
	"mount":                   unix.SYS_MOUNT,
	"umount2":                 unix.SYS_UMOUNT2,
	"swapon":                  unix.SYS_SWAPON,
	"swapoff":                 unix.SYS_SWAPOFF,
	"reboot":                  unix.SYS_REBOOT,
	"sethostname":             unix.SYS_SETHOSTNAME,
	"setdomainname":           unix.SYS_SETDOMAINNAME,
	"init_module":             unix.SYS_INIT_MODULE,
	"delete_module":           unix.SYS_DELETE_MODULE,
	"quotactl":                unix.SYS_QUOTACTL,
	"nfsservctl":              unix.SYS_NFSSERVCTL,
	"gettid":                  unix.SYS_GETTID,
	"readahead":               unix.SYS_READAHEAD,
	"setxattr":                unix.SYS_SETXATTR,
	"lsetxattr":               unix.SYS_LSETXATTR,
	"fsetxattr":               unix.SYS_FSETXATTR,
	"getxattr":                unix.SYS_GETXATTR,
	"lgetxattr":               unix.SYS_LGETXATTR,
	"fgetxattr":               unix.SYS_FGETXATTR,
	"listxattr":               unix.SYS_LISTXATTR,
	"llistxattr":              unix.SYS_LLISTXATTR,
	"flistxattr":              unix.SYS_FLISTXATTR,
	"removexattr":             unix.SYS_REMOVEXATTR,
	"lremovexattr":            unix.SYS_LREMOVEXATTR,
	"fremovexattr":            unix.SYS_FREMOVEXATTR,
	"tkill":                   unix.SYS_TKILL,
	"futex":                   unix.SYS_FUTEX,
	"sched_setaffinity":       unix.SYS_SCHED_SETAFFINITY,
	"sched_getaffinity":       unix.SYS_SCHED_GETAFFINITY,
	"io_setup":                unix.SYS_IO_SETUP,
	"io_destroy":              unix.SYS_IO_DESTROY,
	"io_getevents":            unix.SYS_IO_GETEVENTS,
	"io_submit":               unix.SYS_IO_SUBMIT,
	"io_cancel":               unix.SYS_IO_CANCEL,
	"lookup_dcookie":          unix.SYS_LOOKUP_DCOOKIE,
	"remap_file_pages":        unix.SYS_REMAP_FILE_PAGES,
	"getdents64":              unix.SYS_GETDENTS64,
	"set_tid_address":         unix.SYS_SET_TID_ADDRESS,
	"restart_syscall":         unix.SYS_RESTART_SYSCALL,
	"semtimedop":              unix.SYS_SEMTIMEDOP,
	"fadvise64":               unix.SYS_FADVISE64,
	"timer_create":            unix.SYS_TIMER_CREATE,
	"timer_settime":           unix.SYS_TIMER_SETTIME,
	"timer_gettime":           unix.SYS_TIMER_GETTIME,
	"timer_getoverrun":        unix.SYS_TIMER_GETOVERRUN,
	"timer_delete":            unix.SYS_TIMER_DELETE,
	"clock_settime":           unix.SYS_CLOCK_SETTIME,
	"clock_gettime":           unix.SYS_CLOCK_GETTIME,
	"clock_getres":            unix.SYS_CLOCK_GETRES,
	"clock_nanosleep":         unix.SYS_CLOCK_NANOSLEEP,
	"exit_group":              unix.SYS_EXIT_GROUP,
	"epoll_ctl":               unix.SYS_EPOLL_CTL,
	"tgkill":                  unix.SYS_TGKILL,
	"mbind":                   unix.SYS_MBIND,
	"set_mempolicy":           unix.SYS_SET_MEMPOLICY,
	"get_mempolicy":           unix.SYS_GET_MEMPOLICY,
	"mq_open":                 unix.SYS_MQ_OPEN,
	"mq_unlink":               unix.SYS_MQ_UNLINK,
	"mq_timedsend":            unix.SYS_MQ_TIMEDSEND,
	"mq_timedreceive":         unix.SYS_MQ_TIMEDRECEIVE,
	"mq_notify":               unix.SYS_MQ_NOTIFY,
	"mq_getsetattr":           unix.SYS_MQ_GETSETATTR,
	"kexec_load":              unix.SYS_KEXEC_LOAD,
	"waitid":                  unix.SYS_WAITID,
	"add_key":                 unix.SYS_ADD_KEY,
	"request_key":             unix.SYS_REQUEST_KEY,
	"keyctl":                  unix.SYS_KEYCTL,
	"ioprio_set":              unix.SYS_IOPRIO_SET,
	"ioprio_get":              unix.SYS_IOPRIO_GET,
	"inotify_add_watch":       unix.SYS_INOTIFY_ADD_WATCH,
	"inotify_rm_watch":        unix.SYS_INOTIFY_RM_WATCH,
	"migrate_pages":           unix.SYS_MIGRATE_PAGES,
	"openat":                  unix.SYS_OPENAT,
	"mkdirat":                 unix.SYS_MKDIRAT,
	"mknodat":                 unix.SYS_MKNODAT,
	"fchownat":                unix.SYS_FCHOWNAT,
	"newfstatat":              unix.SYS_NEWFSTATAT,
	"unlinkat":                unix.SYS_UNLINKAT,
	"renameat":                unix.SYS_RENAMEAT,
	"linkat":                  unix.SYS_LINKAT,
	"symlinkat":               unix.SYS_SYMLINKAT,
	"readlinkat":              unix.SYS_READLINKAT,
	"fchmodat":                unix.SYS_FCHMODAT,
	"faccessat":               unix.SYS_FACCESSAT,
	"pselect6":                unix.SYS_PSELECT6,
	"ppoll":                   unix.SYS_PPOLL,
	"unshare":                 unix.SYS_UNSHARE,
	"set_robust_list":         unix.SYS_SET_ROBUST_LIST,
	"get_robust_list":         unix.SYS_GET_ROBUST_LIST,
	"splice":                  unix.SYS_SPLICE,
	"tee":                     unix.SYS_TEE,
	"sync_file_range":         unix.SYS_SYNC_FILE_RANGE,
	"vmsplice":                unix.SYS_VMSPLICE,
	"move_pages":              unix.SYS_MOVE_PAGES,
	"utimensat":               unix.SYS_UTIMENSAT,
	"epoll_pwait":             unix.SYS_EPOLL_PWAIT,
	"timerfd_create":          unix.SYS_TIMERFD_CREATE,
	"fallocate":               unix.SYS_FALLOCATE,
	"timerfd_settime":         unix.SYS_TIMERFD_SETTIME,
	"timerfd_gettime":         unix.SYS_TIMERFD_GETTIME,
	"accept4":                 unix.SYS_ACCEPT4,
	"signalfd4":               unix.SYS_SIGNALFD4,
	"eventfd2":                unix.SYS_EVENTFD2,
	"epoll_create1":           unix.SYS_EPOLL_CREATE1,
	"dup3":                    unix.SYS_DUP3,
	"pipe2":                   unix.SYS_PIPE2,
	"inotify_init1":           unix.SYS_INOTIFY_INIT1,
	"preadv":                  unix.SYS_PREADV,
	"pwritev":                 unix.SYS_PWRITEV,
	"rt_tgsigqueueinfo":       unix.SYS_RT_TGSIGQUEUEINFO,
	"perf_event_open":         unix.SYS_PERF_EVENT_OPEN,
	"recvmmsg":                unix.SYS_RECVMMSG,
	"fanotify_init":           unix.SYS_FANOTIFY_INIT,
	"fanotify_mark":           unix.SYS_FANOTIFY_MARK,
	"prlimit64":               unix.SYS_PRLIMIT64,
	"name_to_handle_at":       unix.SYS_NAME_TO_HANDLE_AT,
	"open_by_handle_at":       unix.SYS_OPEN_BY_HANDLE_AT,
	"clock_adjtime":           unix.SYS_CLOCK_ADJTIME,
	"syncfs":                  unix.SYS_SYNCFS,
	"sendmmsg":                unix.SYS_SENDMMSG,
	"setns":                   unix.SYS_SETNS,
	"getcpu":                  unix.SYS_GETCPU,
	"process_vm_readv":        unix.SYS_PROCESS_VM_READV,
	"process_vm_writev":       unix.SYS_PROCESS_VM_WRITEV,
	"kcmp":                    unix.SYS_KCMP,
	"finit_module":            unix.SYS_FINIT_MODULE,
	"sched_setattr":           unix.SYS_SCHED_SETATTR,
	"sched_getattr":           unix.SYS_SCHED_GETATTR,
	"renameat2":               unix.SYS_RENAMEAT2,
	"seccomp":                 unix.SYS_SECCOMP,
	"getrandom":               unix.SYS_GETRANDOM,
	"memfd_create":            unix.SYS_MEMFD_CREATE,
	"kexec_file_load":         unix.SYS_KEXEC_FILE_LOAD,
	"bpf":                     unix.SYS_BPF,
	"execveat":                unix.SYS_EXECVEAT,
	"userfaultfd":             unix.SYS_USERFAULTFD,
	"membarrier":              unix.SYS_MEMBARRIER,
	"mlock2":                  unix.SYS_MLOCK2,
	"copy_file_range":         unix.SYS_COPY_FILE_RANGE,
	"preadv2":                 unix.SYS_PREADV2,
	"pwritev2":                unix.SYS_PWRITEV2,
	"pkey_mprotect":           unix.SYS_PKEY_MPROTECT,
	"pkey_alloc":              unix.SYS_PKEY_ALLOC,
	"pkey_free":               unix.SYS_PKEY_FREE,
	"statx":                   unix.SYS_STATX,
	"io_pgetevents":           unix.SYS_IO_PGETEVENTS,
	"rseq":                    unix.SYS_RSEQ,
	"pidfd_send_signal":       unix.SYS_PIDFD_SEND_SIGNAL,
	"io_uring_setup":          unix.SYS_IO_URING_SETUP,
	"io_uring_enter":          unix.SYS_IO_URING_ENTER,
	"io_uring_register":       unix.SYS_IO_URING_REGISTER,
	"open_tree":               unix.SYS_OPEN_TREE,
	"move_mount":              unix.SYS_MOVE_MOUNT,
	"fsopen":                  unix.SYS_FSOPEN,
	"fsconfig":                unix.SYS_FSCONFIG,
	"fsmount":                 unix.SYS_FSMOUNT,
	"fspick":                  unix.SYS_FSPICK,
	"pidfd_open":              unix.SYS_PIDFD_OPEN,
	"clone3":                  unix.SYS_CLONE3,
	"close_range":             unix.SYS_CLOSE_RANGE,
	"openat2":                 unix.SYS_OPENAT2,
	"pidfd_getfd":             unix.SYS_PIDFD_GETFD,
	"faccessat2":              unix.SYS_FACCESSAT2,
	"process_madvise":         unix.SYS_PROCESS_MADVISE,
	"epoll_pwait2":            unix.SYS_EPOLL_PWAIT2,
	"mount_setattr":           unix.SYS_MOUNT_SETATTR,
	"quotactl_fd":             unix.SYS_QUOTACTL_FD,
	"landlock_create_ruleset": unix.SYS_LANDLOCK_CREATE_RULESET,
	"landlock_add_rule":       unix.SYS_LANDLOCK_ADD_RULE,
	"landlock_restrict_self":  unix.SYS_LANDLOCK_RESTRICT_SELF,
	"memfd_secret":            unix.SYS_MEMFD_SECRET,
	"process_mrelease":        unix.SYS_PROCESS_MRELEASE,
	"futex_waitv":             unix.SYS_FUTEX_WAITV,
	"set_mempolicy_home_node": unix.SYS_SET_MEMPOLICY_HOME_NODE,
	"cachestat":               unix.SYS_CACHESTAT,
	"fchmodat2":               unix.SYS_FCHMODAT2,
	"map_shadow_stack":        unix.SYS_MAP_SHADOW_STACK,
	"futex_wake":              unix.SYS_FUTEX_WAKE,
	"futex_wait":              unix.SYS_FUTEX_WAIT,
	"futex_requeue":           unix.SYS_FUTEX_REQUEUE,
	"statmount":               unix.SYS_STATMOUNT,
	"listmount":               unix.SYS_LISTMOUNT,
	"lsm_get_self_attr":       unix.SYS_LSM_GET_SELF_ATTR,
	"lsm_set_self_attr":       unix.SYS_LSM_SET_SELF_ATTR,
	"lsm_list_modules":        unix.SYS_LSM_LIST_MODULES,
	"mseal":                   unix.SYS_MSEAL,
	"setxattrat":              unix.SYS_SETXATTRAT,
	"getxattrat":              unix.SYS_GETXATTRAT,
	"listxattrat":             unix.SYS_LISTXATTRAT,
	"removexattrat":           unix.SYS_REMOVEXATTRAT,
	"open_tree_attr":          unix.SYS_OPEN_TREE_ATTR,
}
